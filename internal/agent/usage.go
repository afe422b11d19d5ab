package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// TurnUsage records token usage and estimated cost of one turn.
type TurnUsage struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
	Model        string
	Timestamp    time.Time
}

// UsageTracker accumulates token usage per conversation for the lifetime of
// the process. Nothing is persisted.
type UsageTracker struct {
	mu      sync.Mutex
	turns   map[string][]TurnUsage
	pricing map[string]ModelPricing
}

// NewUsageTracker creates a tracker with default pricing and optional overrides.
func NewUsageTracker(overrides map[string]ModelPricing) *UsageTracker {
	pricing := DefaultPricing()
	for k, v := range overrides {
		pricing[k] = v
	}
	return &UsageTracker{turns: make(map[string][]TurnUsage), pricing: pricing}
}

// DefaultPricing returns built-in pricing for well-known models.
func DefaultPricing() map[string]ModelPricing {
	return map[string]ModelPricing{
		// Anthropic
		"claude-sonnet-4-20250514":  {3.0, 15.0},
		"claude-opus-4-20250514":    {15.0, 75.0},
		"claude-haiku-4-5-20251001": {0.80, 4.0},
		// OpenAI
		"gpt-5":        {1.25, 10.0},
		"gpt-5-mini":   {0.25, 2.0},
		"gpt-4o":       {2.50, 10.0},
		"gpt-4o-mini":  {0.15, 0.60},
		"gpt-4.1":      {2.0, 8.0},
		"gpt-4.1-mini": {0.40, 1.60},
		"o4-mini":      {1.10, 4.40},
		// DeepSeek
		"deepseek-chat":     {0.27, 1.10},
		"deepseek-reasoner": {0.55, 2.19},
		// Groq
		"llama-3.3-70b-versatile": {0.59, 0.79},
	}
}

// Record adds one turn to a conversation and returns its estimated cost.
func (u *UsageTracker) Record(conversationID, model string, inputTokens, outputTokens int) float64 {
	u.mu.Lock()
	defer u.mu.Unlock()

	cost := u.calculateCost(model, inputTokens, outputTokens)
	u.turns[conversationID] = append(u.turns[conversationID], TurnUsage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		Model:        model,
		Timestamp:    time.Now(),
	})
	return cost
}

// Cost returns the estimated dollar cost recorded for a conversation.
func (u *UsageTracker) Cost(conversationID string) float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	total := 0.0
	for _, t := range u.turns[conversationID] {
		total += t.Cost
	}
	return total
}

// Summary returns a formatted report for one conversation.
func (u *UsageTracker) Summary(conversationID string) string {
	u.mu.Lock()
	defer u.mu.Unlock()

	turns := u.turns[conversationID]
	if len(turns) == 0 {
		return "No usage recorded."
	}

	var sb strings.Builder
	totalIn, totalOut, cost := 0, 0, 0.0
	for _, t := range turns {
		totalIn += t.InputTokens
		totalOut += t.OutputTokens
		cost += t.Cost
	}
	fmt.Fprintf(&sb, "Estimated cost: %s (%d turns this session)\n\n", formatCost(cost), len(turns))
	for i, t := range turns {
		fmt.Fprintf(&sb, "  Turn %d: %s  in=%d out=%d  %s\n",
			i+1, t.Model, t.InputTokens, t.OutputTokens, formatCost(t.Cost))
	}
	fmt.Fprintf(&sb, "\nTotal tokens: %d input + %d output = %d",
		totalIn, totalOut, totalIn+totalOut)
	return sb.String()
}

func formatCost(c float64) string {
	if c < 0.01 {
		return fmt.Sprintf("$%.4f", c)
	}
	return fmt.Sprintf("$%.2f", c)
}

// calculateCost must be called with the lock held. Versioned model names
// ("gpt-4o-2024-08-06") use the longest matching prefix.
func (u *UsageTracker) calculateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := u.pricing[model]
	if !ok {
		best := ""
		for name, pricing := range u.pricing {
			if strings.HasPrefix(model, name) && len(name) > len(best) {
				best, p, ok = name, pricing, true
			}
		}
	}
	if !ok {
		return 0
	}
	return (float64(inputTokens) * p.InputPerMillion / 1_000_000) +
		(float64(outputTokens) * p.OutputPerMillion / 1_000_000)
}
