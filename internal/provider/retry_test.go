package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"rate limit 429", errors.New("status 429 too many requests"), true},
		{"rate_limit", errors.New("rate_limit_exceeded"), true},
		{"overloaded 529", errors.New("529 overloaded"), true},
		{"server 500", errors.New("internal server error 500"), true},
		{"bad gateway 502", errors.New("502 bad gateway"), true},
		{"gateway timeout 504", errors.New("504 gateway timeout"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"EOF", errors.New("unexpected EOF"), true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"auth error", errors.New("401 unauthorized"), false},
		{"bad request", errors.New("400 invalid input"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.expected {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	d0 := retryDelay(baseDelay, 0)
	d2 := retryDelay(baseDelay, 2)
	if d0 < 1*time.Second || d0 > 4*time.Second {
		t.Errorf("attempt 0 delay %v out of range", d0)
	}
	if d2 < 4*time.Second || d2 > 16*time.Second {
		t.Errorf("attempt 2 delay %v out of range", d2)
	}
	if d := retryDelay(baseDelay, 10); d > maxDelay+maxDelay*jitterPercent/100 {
		t.Errorf("delay %v exceeds cap", d)
	}
}

type flakyProvider struct {
	errs  []error
	calls int
}

func (f *flakyProvider) Create(ctx context.Context, req *Request) (*Response, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &Response{Text: "ok", ResponseID: "resp_1"}, nil
}

func (f *flakyProvider) Name() string         { return "flaky" }
func (f *flakyProvider) DefaultModel() string { return "m" }

func newTestRetry(p Provider, attempts int) *RetryProvider {
	r := WithRetry(p, attempts, slog.New(slog.NewTextHandler(io.Discard, nil))).(*RetryProvider)
	r.base = time.Millisecond
	return r
}

func TestRetryProviderRecovers(t *testing.T) {
	fp := &flakyProvider{errs: []error{errors.New("503 unavailable"), errors.New("429 slow down")}}
	resp, err := newTestRetry(fp, 3).Create(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if resp.Text != "ok" || fp.calls != 3 {
		t.Fatalf("resp=%+v calls=%d", resp, fp.calls)
	}
}

func TestRetryProviderStopsOnPermanentError(t *testing.T) {
	fp := &flakyProvider{errs: []error{errors.New("401 unauthorized")}}
	if _, err := newTestRetry(fp, 3).Create(context.Background(), &Request{}); err == nil {
		t.Fatal("expected error")
	}
	if fp.calls != 1 {
		t.Fatalf("permanent errors must not be retried, calls=%d", fp.calls)
	}
}

func TestRetryProviderGivesUp(t *testing.T) {
	fp := &flakyProvider{errs: []error{errors.New("500"), errors.New("500"), errors.New("500"), errors.New("500")}}
	if _, err := newTestRetry(fp, 3).Create(context.Background(), &Request{}); err == nil {
		t.Fatal("expected error")
	}
	if fp.calls != 3 {
		t.Fatalf("calls = %d, want 3", fp.calls)
	}
}

func TestWithRetrySingleAttempt(t *testing.T) {
	fp := &flakyProvider{}
	if got := WithRetry(fp, 1, nil); got != Provider(fp) {
		t.Fatal("attempts <= 1 should return the provider unchanged")
	}
}
