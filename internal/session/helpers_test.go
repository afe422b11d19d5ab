package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/apexion-ai/threadline/internal/conversation"
	"github.com/apexion-ai/threadline/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// turns builds n alternating user/assistant records starting with a user.
func turns(conversationID string, n int) []conversation.Record {
	recs := make([]conversation.Record, 0, n)
	for i := 0; i < n; i++ {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		recs = append(recs, conversation.NewRecord(conversationID, role, fmt.Sprintf("%s message %d", role, i)))
	}
	return recs
}

func summaryRecord(conversationID, text string) conversation.Record {
	r := conversation.NewRecord(conversationID, conversation.RoleSystem, text)
	r.Kind = conversation.KindSummary
	return r
}

type fakeSummarizer struct {
	mu          sync.Mutex
	text        string
	err         error
	calls       int
	transcripts []string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript string, targetChars int) (Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.transcripts = append(f.transcripts, transcript)
	if f.err != nil {
		return Summary{}, f.err
	}
	return Summary{Text: f.text, Model: "summary-model", ResponseID: "resp_sum"}, nil
}

type stubProvider struct {
	text string
	err  error
	reqs []*provider.Request
}

func (s *stubProvider) Create(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Response{Text: s.text, ResponseID: "resp_1"}, nil
}

func (s *stubProvider) Name() string         { return "stub" }
func (s *stubProvider) DefaultModel() string { return "main-model" }

func contains(s, sub string) bool { return strings.Contains(s, sub) }
