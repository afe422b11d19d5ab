package agent

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

//go:embed prompts/assistant.md
var defaultPrompt string

// PromptSource supplies the anchor system prompt for every turn.
type PromptSource interface {
	Prompt() string
}

// StaticPrompt is a fixed anchor prompt.
type StaticPrompt string

func (s StaticPrompt) Prompt() string { return string(s) }

// DefaultPrompt returns the built-in anchor prompt.
func DefaultPrompt() StaticPrompt { return StaticPrompt(strings.TrimSpace(defaultPrompt)) }

// PromptLoader serves the anchor prompt from a file and reloads it when the
// file changes on disk.
type PromptLoader struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	text string
}

// NewPromptLoader reads the prompt at path. A missing or empty file is an
// error, since every model call depends on it.
func NewPromptLoader(path string, logger *slog.Logger) (*PromptLoader, error) {
	l := &PromptLoader{path: path, logger: logger}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *PromptLoader) Prompt() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.text
}

func (l *PromptLoader) reload() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read system prompt: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("system prompt %s is empty", l.path)
	}
	l.mu.Lock()
	l.text = text
	l.mu.Unlock()
	return nil
}

// Watch reloads the prompt on every write until ctx is done. The parent
// directory is watched because editors often replace files on save.
func (l *PromptLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(l.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, func() {
					if err := l.reload(); err != nil {
						l.logger.Warn("system prompt reload failed, keeping previous", "path", l.path, "error", err)
						return
					}
					l.logger.Info("system prompt reloaded", "path", l.path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("prompt watcher error", "error", err)
			}
		}
	}()
	return nil
}
