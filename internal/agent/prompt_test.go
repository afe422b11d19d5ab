package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultPrompt(t *testing.T) {
	if strings.TrimSpace(DefaultPrompt().Prompt()) == "" {
		t.Fatal("embedded prompt is empty")
	}
}

func TestPromptLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.md")
	if err := os.WriteFile(path, []byte("  be brief \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := NewPromptLoader(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if got := l.Prompt(); got != "be brief" {
		t.Fatalf("Prompt() = %q", got)
	}
}

func TestPromptLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewPromptLoader(filepath.Join(dir, "missing.md"), testLogger()); err == nil {
		t.Fatal("expected error for missing prompt")
	}
	empty := filepath.Join(dir, "empty.md")
	os.WriteFile(empty, []byte("\n"), 0o644)
	if _, err := NewPromptLoader(empty, testLogger()); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestPromptLoaderWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.md")
	os.WriteFile(path, []byte("v1"), 0o644)
	l, err := NewPromptLoader(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Watch(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for l.Prompt() != "v2" {
		if time.Now().After(deadline) {
			t.Fatalf("prompt not reloaded, still %q", l.Prompt())
		}
		time.Sleep(20 * time.Millisecond)
	}

	// An emptied file keeps the last good prompt.
	os.WriteFile(path, nil, 0o644)
	time.Sleep(300 * time.Millisecond)
	if got := l.Prompt(); got != "v2" {
		t.Fatalf("prompt = %q, want v2 kept", got)
	}
}
