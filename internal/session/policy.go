// Package session decides what part of a conversation is sent to the model:
// the live window of recent turns and a rolling summary of everything older.
package session

import (
	"strings"
	"unicode/utf8"

	"github.com/apexion-ai/threadline/internal/conversation"
)

// Policy holds the compaction thresholds.
type Policy struct {
	Enabled bool
	// KeepLast is the live window size, in live records.
	KeepLast int
	// UpdateEveryNTurns is the number of assistant records after the latest
	// summary that triggers a new compaction.
	UpdateEveryNTurns int
	// MaxSummaryChars is the target summary length. The stored summary may
	// exceed it by up to summarySlack characters.
	MaxSummaryChars int
}

const summarySlack = 500

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{Enabled: true, KeepLast: 12, UpdateEveryNTurns: 6, MaxSummaryChars: 4000}
}

// LiveRecords returns the user and assistant turns of history, in order.
func LiveRecords(history []conversation.Record) []conversation.Record {
	live := make([]conversation.Record, 0, len(history))
	for _, r := range history {
		if r.IsLive() {
			live = append(live, r)
		}
	}
	return live
}

// LatestSummary returns the most recent summary record and its index in history.
func LatestSummary(history []conversation.Record) (conversation.Record, int, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsSummary() {
			return history[i], i, true
		}
	}
	return conversation.Record{}, -1, false
}

// AssistantTurnsSinceSummary counts live assistant records appended after the
// latest summary, or in the whole history when there is none.
func AssistantTurnsSinceSummary(history []conversation.Record) int {
	_, idx, _ := LatestSummary(history)
	n := 0
	for _, r := range history[idx+1:] {
		if r.IsLive() && r.Role == conversation.RoleAssistant {
			n++
		}
	}
	return n
}

// NeedsCompaction reports whether a new summary should be produced.
func NeedsCompaction(history []conversation.Record, p Policy) bool {
	if !p.Enabled {
		return false
	}
	if len(LiveRecords(history)) <= p.KeepLast {
		return false
	}
	return AssistantTurnsSinceSummary(history) >= p.UpdateEveryNTurns
}

// Window returns the last keepLast live records, oldest first.
func Window(history []conversation.Record, keepLast int) []conversation.Record {
	live := LiveRecords(history)
	if keepLast < 0 {
		keepLast = 0
	}
	if len(live) > keepLast {
		live = live[len(live)-keepLast:]
	}
	return live
}

// Head returns the live records older than the live window.
func Head(history []conversation.Record, keepLast int) []conversation.Record {
	live := LiveRecords(history)
	if len(live) <= keepLast {
		return nil
	}
	return live[:len(live)-keepLast]
}

// Transcript flattens records into "User: ..." and "Assistant: ..." lines.
// Empty turns are skipped.
func Transcript(records []conversation.Record) string {
	var b strings.Builder
	for _, r := range records {
		var prefix string
		switch r.Role {
		case conversation.RoleUser:
			prefix = "User: "
		case conversation.RoleAssistant:
			prefix = "Assistant: "
		default:
			continue
		}
		text := strings.TrimSpace(r.Content)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(prefix)
		b.WriteString(text)
	}
	return b.String()
}

// KeepTail returns the last limit characters of s.
func KeepTail(s string, limit int) string {
	n := utf8.RuneCountInString(s)
	if n <= limit {
		return s
	}
	skip := n - limit
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return ""
}

// KeepHead returns the first limit characters of s.
func KeepHead(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
