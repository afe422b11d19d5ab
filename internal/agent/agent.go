// Package agent runs conversation turns: it loads history, refreshes the
// rolling summary, calls the model and persists both sides of the turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/apexion-ai/threadline/internal/conversation"
	"github.com/apexion-ai/threadline/internal/provider"
	"github.com/apexion-ai/threadline/internal/session"
)

var (
	// ErrCompletion wraps completion client failures. Nothing is persisted
	// for a turn that fails this way.
	ErrCompletion = errors.New("completion failed")
	// ErrEmptyInput is returned for a turn with no text and no image.
	ErrEmptyInput = errors.New("empty input")
)

// Options tune the completion calls made for each turn.
type Options struct {
	Model string
	// Store asks the backend to retain responses server-side.
	Store bool
	// ChainResponses passes the latest assistant response id as
	// previous_response_id.
	ChainResponses  bool
	MaxOutputTokens int
	Timeout         time.Duration
	// Pricing overrides the built-in per-model prices used for cost estimates.
	Pricing map[string]ModelPricing
}

// Result is the outcome of one turn.
type Result struct {
	ConversationID string `json:"conversation_id"`
	AssistantText  string `json:"assistant_text"`
	ResponseID     string `json:"response_id,omitempty"`
}

// Agent executes turns against one provider and one conversation store.
type Agent struct {
	provider  provider.Provider
	store     conversation.Store
	compactor *session.Compactor
	prompt    PromptSource
	opts      Options
	usage     *UsageTracker
	logger    *slog.Logger
}

// New wires an Agent. A nil prompt uses the built-in anchor prompt.
func New(p provider.Provider, store conversation.Store, compactor *session.Compactor, prompt PromptSource, opts Options, logger *slog.Logger) *Agent {
	if prompt == nil {
		prompt = DefaultPrompt()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Model == "" {
		opts.Model = p.DefaultModel()
	}
	return &Agent{
		provider:  p,
		store:     store,
		compactor: compactor,
		prompt:    prompt,
		opts:      opts,
		usage:     NewUsageTracker(opts.Pricing),
		logger:    logger,
	}
}

// Model returns the model used for turns.
func (a *Agent) Model() string { return a.opts.Model }

// ProviderName returns the backing provider's name.
func (a *Agent) ProviderName() string { return a.provider.Name() }

// Chat runs a text turn. An empty conversationID starts a new conversation.
func (a *Agent) Chat(ctx context.Context, conversationID, userText string) (Result, error) {
	if strings.TrimSpace(userText) == "" {
		return Result{}, ErrEmptyInput
	}
	input := provider.TextMessage(provider.RoleUser, userText)
	return a.turn(ctx, conversationID, input, userText)
}

// ChatImage runs a turn whose input is an image with an optional caption.
// The image itself is not persisted; the stored user record holds the
// caption and an image marker.
func (a *Agent) ChatImage(ctx context.Context, conversationID, caption string, img provider.Image) (Result, error) {
	if img.Data == "" {
		return Result{}, ErrEmptyInput
	}
	stored := conversation.ImageMarker
	if caption = strings.TrimSpace(caption); caption != "" {
		stored = caption + "\n" + conversation.ImageMarker
	}
	return a.turn(ctx, conversationID, provider.ImageMessage(img, caption), stored)
}

func (a *Agent) turn(ctx context.Context, conversationID string, input provider.Message, storedInput string) (Result, error) {
	if conversationID == "" {
		conversationID = conversation.NewID()
	}
	if !conversation.ValidID(conversationID) {
		return Result{}, fmt.Errorf("%w: %q", conversation.ErrInvalidID, conversationID)
	}
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}
	start := time.Now()
	log := a.logger.With("conversation_id", conversationID)

	history, err := a.store.Load(conversationID)
	if err != nil {
		return Result{}, fmt.Errorf("load history: %w", err)
	}

	var resolved session.Resolution
	keepLast := session.DefaultPolicy().KeepLast
	if a.compactor != nil {
		keepLast = a.compactor.Policy().KeepLast
		resolved = a.compactor.Resolve(ctx, conversationID, history)
	}
	summary := resolved.Text

	msgs := session.Assemble(a.prompt.Prompt(), summary, history, keepLast, input)
	req := &provider.Request{
		Model:           a.opts.Model,
		Messages:        msgs,
		Store:           a.opts.Store,
		MaxOutputTokens: a.opts.MaxOutputTokens,
	}
	if a.opts.ChainResponses {
		if prev, ok := latestContinuation(history); ok {
			req.PreviousResponseID = prev
		}
	}
	log.Debug("calling model", "messages", len(msgs), "history", len(history), "summary", summary != "")

	resp, err := a.provider.Create(ctx, req)
	if err != nil {
		log.Error("completion call failed", "error", err)
		return Result{}, fmt.Errorf("%w: %w", ErrCompletion, err)
	}

	model := resp.Model
	if model == "" {
		model = a.opts.Model
	}
	userRec := conversation.NewRecord(conversationID, conversation.RoleUser, storedInput)
	asstRec := conversation.NewRecord(conversationID, conversation.RoleAssistant, resp.Text)
	asstRec.Model = model
	asstRec.ResponseID = resp.ResponseID
	recs := []conversation.Record{userRec, asstRec}
	if resolved.Record != nil {
		recs = append([]conversation.Record{*resolved.Record}, recs...)
	}
	if err := a.store.Append(conversationID, recs...); err != nil {
		return Result{}, fmt.Errorf("persist turn: %w", err)
	}

	cost := a.usage.Record(conversationID, model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	log.Info("turn complete",
		"response_id", resp.ResponseID,
		"chars", len(resp.Text),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"cost_usd", cost,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return Result{
		ConversationID: conversationID,
		AssistantText:  resp.Text,
		ResponseID:     resp.ResponseID,
	}, nil
}

func latestContinuation(history []conversation.Record) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if conversation.HasContinuation(history[i]) {
			return history[i].ResponseID, true
		}
	}
	return "", false
}

// History returns every record of a conversation.
func (a *Agent) History(conversationID string) ([]conversation.Record, error) {
	return a.store.Load(conversationID)
}

// Usage reports token usage and estimated cost of a conversation's turns in
// this process.
func (a *Agent) Usage(conversationID string) string {
	return a.usage.Summary(conversationID)
}

// LatestSummary returns the current rolling summary of a conversation.
func (a *Agent) LatestSummary(conversationID string) (string, bool, error) {
	rec, ok, err := a.store.Latest(conversationID, conversation.IsSummaryRecord)
	if err != nil || !ok {
		return "", false, err
	}
	return rec.Content, true, nil
}
