// Package conversation persists conversation history as append-only logs.
package conversation

import (
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a record.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Kind distinguishes ordinary turns from compaction output.
// The zero value is a normal record.
type Kind string

const (
	KindNormal  Kind = ""
	KindSummary Kind = "summary"
)

// ImageMarker is stored in place of image payloads in user records.
const ImageMarker = "[IMAGE]"

// Record is a single immutable entry of a conversation log.
type Record struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Kind           Kind           `json:"kind,omitempty"`
	Content        string         `json:"content"`
	Timestamp      time.Time      `json:"ts"`
	Model          string         `json:"model,omitempty"`
	ResponseID     string         `json:"response_id,omitempty" jsonschema:"description=Provider continuation token"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// NewRecord returns a normal record with a fresh id and the current UTC time.
func NewRecord(conversationID string, role Role, content string) Record {
	return Record{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}
}

// IsLive reports whether the record is a user or assistant turn.
// Summaries and system notes are not live.
func (r Record) IsLive() bool {
	return r.Kind == KindNormal && (r.Role == RoleUser || r.Role == RoleAssistant)
}

// IsSummary reports whether the record holds compaction output.
func (r Record) IsSummary() bool {
	return r.Kind == KindSummary
}

// IsSummaryRecord is a Latest predicate matching summary records.
func IsSummaryRecord(r Record) bool { return r.IsSummary() }

// HasContinuation is a Latest predicate matching assistant records
// that carry a provider response id.
func HasContinuation(r Record) bool {
	return r.Role == RoleAssistant && r.Kind == KindNormal && r.ResponseID != ""
}

// ErrInvalidID is returned for conversation ids that are not safe file names.
var ErrInvalidID = errors.New("invalid conversation id")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidID reports whether id can be used as a conversation id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// NewID returns a new random conversation id.
func NewID() string {
	return uuid.NewString()
}

// Store is an append-only, per-conversation record log.
type Store interface {
	// Append durably adds records to the end of the conversation in one write.
	Append(conversationID string, records ...Record) error
	// Load returns all records in append order. Unknown conversations are empty.
	Load(conversationID string) ([]Record, error)
	// Latest returns the most recent record matching the predicate.
	Latest(conversationID string, match func(Record) bool) (Record, bool, error)
}
