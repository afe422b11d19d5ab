package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/apexion-ai/threadline/internal/conversation"
	"github.com/google/uuid"
)

// Compactor keeps the rolling summary of a conversation up to date.
type Compactor struct {
	summarizer Summarizer
	policy     Policy
	logger     *slog.Logger
}

// NewCompactor returns a Compactor that summarizes with summarizer.
func NewCompactor(summarizer Summarizer, policy Policy, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{summarizer: summarizer, policy: policy, logger: logger}
}

// Policy returns the thresholds in use.
func (c *Compactor) Policy() Policy { return c.policy }

// Resolution is the summary to use for one turn.
type Resolution struct {
	// Text goes in front of the live window; empty when there is none.
	Text string
	// Record is a freshly generated summary that is not yet in the log.
	// The caller appends it together with the turn's records, so a turn
	// that fails leaves no summary behind.
	Record *conversation.Record
}

// Resolve returns the summary to place in front of the live window,
// generating a new one when the policy asks for it. Summarizer failures
// leave the previous summary in place.
func (c *Compactor) Resolve(ctx context.Context, conversationID string, history []conversation.Record) Resolution {
	if !c.policy.Enabled {
		return Resolution{}
	}
	var res Resolution
	if rec, _, ok := LatestSummary(history); ok {
		res.Text = rec.Content
	}
	if !NeedsCompaction(history, c.policy) {
		return res
	}

	head := Head(history, c.policy.KeepLast)
	if len(head) == 0 {
		return res
	}

	transcript := KeepTail(Transcript(head), 2*c.policy.MaxSummaryChars)
	if transcript == "" {
		return res
	}

	start := time.Now()
	sum, err := c.summarizer.Summarize(ctx, transcript, c.policy.MaxSummaryChars)
	if err != nil {
		c.logger.Warn("summary generation failed, keeping previous summary",
			"conversation_id", conversationID, "error", err)
		return res
	}

	rec := conversation.Record{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           conversation.RoleSystem,
		Kind:           conversation.KindSummary,
		Content:        KeepHead(sum.Text, c.policy.MaxSummaryChars+summarySlack),
		Timestamp:      time.Now().UTC(),
		Model:          sum.Model,
		ResponseID:     sum.ResponseID,
		Meta: map[string]any{
			"keep_last":         c.policy.KeepLast,
			"head_records":      len(head),
			"compacted_through": head[len(head)-1].ID,
		},
	}
	c.logger.Debug("summary generated",
		"conversation_id", conversationID,
		"head_records", len(head),
		"chars", len(rec.Content),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return Resolution{Text: rec.Content, Record: &rec}
}
