package provider

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	defaultAttempts = 3
	baseDelay       = 2 * time.Second
	maxDelay        = 30 * time.Second
	jitterPercent   = 30 // ±30% jitter
)

// RetryProvider retries transient failures of the wrapped provider with
// exponential backoff.
type RetryProvider struct {
	Provider
	attempts int
	base     time.Duration
	logger   *slog.Logger
}

// WithRetry wraps p so Create is attempted up to attempts times.
// attempts <= 1 returns p unchanged.
func WithRetry(p Provider, attempts int, logger *slog.Logger) Provider {
	if attempts <= 1 {
		return p
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryProvider{Provider: p, attempts: attempts, base: baseDelay, logger: logger}
}

func (r *RetryProvider) Create(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		resp, err := r.Provider.Create(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryableError(err) || attempt == r.attempts-1 {
			break
		}
		delay := retryDelay(r.base, attempt)
		r.logger.Warn("completion call failed, retrying",
			"provider", r.Name(), "attempt", attempt+1, "max_attempts", r.attempts,
			"delay", delay.Round(time.Millisecond), "error", truncateError(err))
		if err := sleepWithContext(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// isRetryableError checks if an error is worth retrying (rate limit, server error, network).
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()

	// Rate limit (429)
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") {
		return true
	}
	// Anthropic overloaded (529)
	if strings.Contains(msg, "529") || strings.Contains(msg, "overloaded") {
		return true
	}
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "temporary failure")
}

// retryDelay returns the delay for attempt n (0-indexed) with jitter.
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for range attempt {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	span := int64(delay) * jitterPercent * 2 / 100
	if span <= 0 {
		return delay
	}
	jitter := time.Duration(rand.Int64N(span)) - time.Duration(int64(delay)*jitterPercent/100)
	return delay + jitter
}

// sleepWithContext sleeps for d, but returns early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncateError(err error) string {
	s := err.Error()
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
