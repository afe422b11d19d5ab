package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/apexion-ai/threadline/internal/conversation"
	"github.com/apexion-ai/threadline/internal/provider"
	"github.com/apexion-ai/threadline/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider answers every call with the next reply, or fails.
// With failFrom set, calls numbered failFrom and later fail with err.
type scriptedProvider struct {
	mu       sync.Mutex
	reply    string
	err      error
	failFrom int
	reqs     []*provider.Request
	n        int
}

func (p *scriptedProvider) Create(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil && (p.failFrom == 0 || len(p.reqs) >= p.failFrom) {
		return nil, p.err
	}
	p.n++
	return &provider.Response{
		Text:       p.reply,
		ResponseID: fmt.Sprintf("resp_%d", p.n),
		Model:      "gpt-test",
		Usage:      provider.Usage{InputTokens: 100, OutputTokens: 20},
	}, nil
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "gpt-test" }

func newTestAgent(p provider.Provider, store conversation.Store, opts Options) *Agent {
	compactor := session.NewCompactor(&session.LLMSummarizer{Provider: p}, session.DefaultPolicy(), testLogger())
	return New(p, store, compactor, StaticPrompt("anchor"), opts, testLogger())
}

func TestChatFirstTurn(t *testing.T) {
	store, err := conversation.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := &scriptedProvider{reply: "hi there"}
	a := newTestAgent(p, store, Options{Store: true})

	res, err := a.Chat(context.Background(), "", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.ConversationID == "" || res.AssistantText != "hi there" || res.ResponseID != "resp_1" {
		t.Fatalf("unexpected result %+v", res)
	}

	req := p.reqs[0]
	if len(req.Messages) != 2 {
		t.Fatalf("expected [anchor, input], got %d messages", len(req.Messages))
	}
	if req.Messages[0].Text() != "anchor" || req.Messages[1].Text() != "hello" {
		t.Fatal("unexpected message contents")
	}
	if !req.Store {
		t.Fatal("durability flag not passed")
	}

	recs, err := store.Load(res.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Role != conversation.RoleUser || recs[0].Content != "hello" {
		t.Fatalf("bad user record %+v", recs[0])
	}
	if recs[1].Role != conversation.RoleAssistant || recs[1].Model != "gpt-test" || recs[1].ResponseID != "resp_1" {
		t.Fatalf("bad assistant record %+v", recs[1])
	}
}

func TestChatCompletionFailureAppendsNothing(t *testing.T) {
	store := conversation.NewMemoryStore()
	p := &scriptedProvider{reply: "ok"}
	a := newTestAgent(p, store, Options{})
	if _, err := a.Chat(context.Background(), "c1", "first"); err != nil {
		t.Fatal(err)
	}

	p.err = errors.New("503 unavailable")
	_, err := a.Chat(context.Background(), "c1", "second")
	if !errors.Is(err, ErrCompletion) {
		t.Fatalf("expected ErrCompletion, got %v", err)
	}
	recs, _ := store.Load("c1")
	if len(recs) != 2 {
		t.Fatalf("log should be unchanged, has %d records", len(recs))
	}
}

func TestChatCompactsLongHistory(t *testing.T) {
	store := conversation.NewMemoryStore()
	seedTurns(t, store, "c1", 15)
	p := &scriptedProvider{reply: "digest"}
	a := newTestAgent(p, store, Options{})

	if _, err := a.Chat(context.Background(), "c1", "next"); err != nil {
		t.Fatal(err)
	}
	recs, _ := store.Load("c1")
	if len(recs) != 33 {
		t.Fatalf("expected 30 + summary + 2, got %d", len(recs))
	}
	if !recs[30].IsSummary() {
		t.Fatal("summary should follow the prior history")
	}
	if recs[31].Role != conversation.RoleUser || recs[32].Role != conversation.RoleAssistant {
		t.Fatal("turn records should follow the summary")
	}

	turnReq := p.reqs[len(p.reqs)-1]
	// anchor + summary + 12 live + input
	if len(turnReq.Messages) != 15 {
		t.Fatalf("turn request has %d messages, want 15", len(turnReq.Messages))
	}
	if turnReq.Messages[1].Text() != session.SummaryLabel+"digest" {
		t.Fatalf("summary block = %q", turnReq.Messages[1].Text())
	}
}

func seedTurns(t *testing.T, store conversation.Store, id string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := store.Append(id,
			conversation.NewRecord(id, conversation.RoleUser, fmt.Sprintf("q%d", i)),
			conversation.NewRecord(id, conversation.RoleAssistant, fmt.Sprintf("a%d", i)),
		); err != nil {
			t.Fatal(err)
		}
	}
}

func TestChatFailureAfterSummaryAppendsNothing(t *testing.T) {
	store := conversation.NewMemoryStore()
	seedTurns(t, store, "c1", 15)
	// The summary call succeeds, the turn call fails.
	p := &scriptedProvider{reply: "digest", err: errors.New("503 unavailable"), failFrom: 2}
	a := newTestAgent(p, store, Options{})

	if _, err := a.Chat(context.Background(), "c1", "next"); !errors.Is(err, ErrCompletion) {
		t.Fatalf("expected ErrCompletion, got %v", err)
	}
	if len(p.reqs) != 2 {
		t.Fatalf("expected summary and turn calls, got %d", len(p.reqs))
	}
	recs, _ := store.Load("c1")
	if len(recs) != 30 {
		t.Fatalf("log should be unchanged, has %d records", len(recs))
	}
	if _, ok, _ := a.LatestSummary("c1"); ok {
		t.Fatal("summary persisted for a failed turn")
	}
}

type failingStore struct {
	conversation.Store
}

func (failingStore) Append(string, ...conversation.Record) error {
	return errors.New("disk full")
}

func TestChatPersistFailureIsFatal(t *testing.T) {
	store := conversation.NewMemoryStore()
	seedTurns(t, store, "c1", 15)
	a := newTestAgent(&scriptedProvider{reply: "ok"}, failingStore{store}, Options{})
	if _, err := a.Chat(context.Background(), "c1", "next"); err == nil {
		t.Fatal("expected storage error")
	}
	if recs, _ := store.Load("c1"); len(recs) != 30 {
		t.Fatalf("log changed: %d records", len(recs))
	}
}

func TestChatImage(t *testing.T) {
	store := conversation.NewMemoryStore()
	p := &scriptedProvider{reply: "a cat"}
	a := newTestAgent(p, store, Options{})
	if _, err := a.Chat(context.Background(), "c1", "hello"); err != nil {
		t.Fatal(err)
	}

	img := provider.Image{Data: "QUJD", MediaType: "image/jpeg"}
	if _, err := a.ChatImage(context.Background(), "c1", "what is it?", img); err != nil {
		t.Fatal(err)
	}

	req := p.reqs[len(p.reqs)-1]
	if len(req.Messages) != 4 {
		t.Fatalf("expected anchor + 2 live + image, got %d", len(req.Messages))
	}
	last := req.Messages[3]
	if last.Content[0].Type != provider.ContentTypeImage || last.Text() != "what is it?" {
		t.Fatalf("final message should carry the image and caption: %+v", last)
	}
	if req.Messages[0].Text() != "anchor" || req.Messages[1].Text() != "hello" {
		t.Fatal("anchor and window must be unchanged by the image variant")
	}

	recs, _ := store.Load("c1")
	if got := recs[2].Content; got != "what is it?\n"+conversation.ImageMarker {
		t.Fatalf("stored user content = %q", got)
	}

	if _, err := a.ChatImage(context.Background(), "c1", "", provider.Image{}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestChatChainsResponses(t *testing.T) {
	store := conversation.NewMemoryStore()
	p := &scriptedProvider{reply: "ok"}
	a := newTestAgent(p, store, Options{ChainResponses: true})

	a.Chat(context.Background(), "c1", "one")
	a.Chat(context.Background(), "c1", "two")
	if p.reqs[0].PreviousResponseID != "" {
		t.Fatal("first turn has nothing to chain to")
	}
	if p.reqs[1].PreviousResponseID != "resp_1" {
		t.Fatalf("previous_response_id = %q", p.reqs[1].PreviousResponseID)
	}
}

func TestChatRejectsBadInput(t *testing.T) {
	a := newTestAgent(&scriptedProvider{}, conversation.NewMemoryStore(), Options{})
	if _, err := a.Chat(context.Background(), "c1", "   "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := a.Chat(context.Background(), "../etc", "hi"); !errors.Is(err, conversation.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestLatestSummary(t *testing.T) {
	store := conversation.NewMemoryStore()
	a := newTestAgent(&scriptedProvider{}, store, Options{})
	if _, ok, err := a.LatestSummary("c1"); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	rec := conversation.NewRecord("c1", conversation.RoleSystem, "facts")
	rec.Kind = conversation.KindSummary
	store.Append("c1", rec)
	got, ok, _ := a.LatestSummary("c1")
	if !ok || got != "facts" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
}

func TestUsagePerConversation(t *testing.T) {
	p := &scriptedProvider{reply: "ok"}
	a := newTestAgent(p, conversation.NewMemoryStore(), Options{
		Pricing: map[string]ModelPricing{"gpt-test": {InputPerMillion: 1, OutputPerMillion: 1}},
	})

	res, err := a.Chat(context.Background(), "", "one")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Chat(context.Background(), res.ConversationID, "two"); err != nil {
		t.Fatal(err)
	}

	got := a.Usage(res.ConversationID)
	if !strings.Contains(got, "2 turns") || !strings.Contains(got, "200 input + 40 output") {
		t.Fatalf("unexpected usage report:\n%s", got)
	}
	if a.Usage(conversation.NewID()) != "No usage recorded." {
		t.Fatal("fresh conversation should have no usage")
	}
}
