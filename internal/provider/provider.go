// Package provider defines the completion client used for every model call
// and its adapters for OpenAI-compatible and Anthropic backends.
package provider

import (
	"context"
	"errors"
	"strings"
)

// ── Message types ────────────────────────────────────────────────────────────

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// Content is a single content block within a message.
type Content struct {
	Type           ContentType
	Text           string
	ImageData      string // image: base64-encoded data
	ImageMediaType string // image: MIME type (e.g. "image/png")
}

// Message is a single message sent to the model.
type Message struct {
	Role    Role
	Content []Content
}

// TextMessage builds a message with a single text block.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []Content{{Type: ContentTypeText, Text: text}}}
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var parts []string
	for _, c := range m.Content {
		if c.Type == ContentTypeText && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Image is an inline image attached to a user turn.
type Image struct {
	Data      string // base64
	MediaType string
}

// DataURL renders the image as a data: URL.
func (i Image) DataURL() string {
	return "data:" + i.MediaType + ";base64," + i.Data
}

// ImageMessage builds a user message holding an image and an optional caption.
func ImageMessage(img Image, caption string) Message {
	content := []Content{{Type: ContentTypeImage, ImageData: img.Data, ImageMediaType: img.MediaType}}
	if caption != "" {
		content = append(content, Content{Type: ContentTypeText, Text: caption})
	}
	return Message{Role: RoleUser, Content: content}
}

// ── Request types ────────────────────────────────────────────────────────────

// Request is the unified completion request.
type Request struct {
	Model    string
	Messages []Message

	// Store asks the backend to retain the response server-side.
	Store bool
	// PreviousResponseID chains the call to an earlier stored response.
	PreviousResponseID string

	MaxOutputTokens int
}

// Response is the unified completion result.
type Response struct {
	Text       string
	ResponseID string
	Model      string
	Usage      Usage
}

// Usage records token consumption for an API call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ── Provider interface ───────────────────────────────────────────────────────

// Provider is the completion client. A failed call returns a single error
// and no partial output.
type Provider interface {
	Create(ctx context.Context, req *Request) (*Response, error)

	// Name returns the provider identifier, e.g. "anthropic", "openai", "deepseek".
	Name() string

	// DefaultModel returns the model used when a request leaves Model empty.
	DefaultModel() string
}

// ErrEmptyRequest is returned for a request without messages.
var ErrEmptyRequest = errors.New("completion request has no messages")
