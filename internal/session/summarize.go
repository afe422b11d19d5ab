package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/apexion-ai/threadline/internal/provider"
)

// Summary is the output of one compaction call.
type Summary struct {
	Text       string
	Model      string
	ResponseID string
}

// Summarizer condenses a transcript into a durable-fact digest of about
// targetChars characters.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string, targetChars int) (Summary, error)
}

// ErrEmptySummary is returned when the model produced no text.
var ErrEmptySummary = errors.New("summarizer returned empty summary")

const summarizePrompt = `Condense the conversation below into a short, useful digest for continuing it.
Keep only durable facts, the user's goals, constraints, decisions made, important definitions,
agreements on style and tone, open questions and TODOs.
Leave out pleasantries and filler. Write compact plain text.
Limit: about %d characters.`

// LLMSummarizer calls the completion client to produce summaries.
type LLMSummarizer struct {
	Provider provider.Provider
	Model    string // optional: a cheaper model for compaction. Empty = provider default.
}

func (s *LLMSummarizer) Summarize(ctx context.Context, transcript string, targetChars int) (Summary, error) {
	model := s.Model
	if model == "" {
		model = s.Provider.DefaultModel()
	}

	resp, err := s.Provider.Create(ctx, &provider.Request{
		Model: model,
		Messages: []provider.Message{
			provider.TextMessage(provider.RoleSystem, fmt.Sprintf(summarizePrompt, targetChars)),
			provider.TextMessage(provider.RoleUser, transcript),
		},
	})
	if err != nil {
		return Summary{}, fmt.Errorf("summarize LLM call failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Summary{}, ErrEmptySummary
	}
	if resp.Model != "" {
		model = resp.Model
	}
	return Summary{Text: text, Model: model, ResponseID: resp.ResponseID}, nil
}
