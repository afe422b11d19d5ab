package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/apexion-ai/threadline/internal/agent"
	"github.com/apexion-ai/threadline/internal/config"
	"github.com/apexion-ai/threadline/internal/conversation"
	"github.com/apexion-ai/threadline/internal/logging"
	"github.com/apexion-ai/threadline/internal/provider"
	"github.com/apexion-ai/threadline/internal/registry"
	"github.com/apexion-ai/threadline/internal/session"
)

type appOptions struct {
	// ephemeral keeps the conversation log in memory.
	ephemeral bool
	// console overrides where console logs go; io.Discard while a TUI owns the screen.
	console io.Writer
}

// app holds everything the front-ends share.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
	provider provider.Provider
	store    conversation.Store
	agent    *agent.Agent
	loader   *agent.PromptLoader
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Path:    cfg.Log.Path,
		Console: opts.console,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, closeLog: closeLog}
	if err := a.wire(opts); err != nil {
		_ = closeLog()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(opts appOptions) error {
	cfg := a.cfg

	p, err := buildProvider(cfg, a.logger)
	if err != nil {
		return err
	}
	a.provider = p

	if opts.ephemeral {
		a.store = conversation.NewMemoryStore()
	} else {
		fs, err := conversation.NewFileStore(cfg.Storage.Dir)
		if err != nil {
			return err
		}
		a.store = fs
	}

	var prompt agent.PromptSource = agent.DefaultPrompt()
	if cfg.SystemPromptPath != "" {
		loader, err := agent.NewPromptLoader(cfg.SystemPromptPath, a.logger.With("component", "prompt"))
		if err != nil {
			return err
		}
		a.loader = loader
		prompt = loader
	}

	policy := session.Policy{
		Enabled:           cfg.Summary.Enabled,
		KeepLast:          cfg.Summary.KeepLast,
		UpdateEveryNTurns: cfg.Summary.UpdateEveryNTurns,
		MaxSummaryChars:   cfg.Summary.MaxChars,
	}
	summarizer := &session.LLMSummarizer{Provider: p, Model: cfg.Summary.Model}
	compactor := session.NewCompactor(summarizer, policy, a.logger.With("component", "compactor"))

	a.agent = agent.New(p, a.store, compactor, prompt, agent.Options{
		Model:           cfg.Model,
		Store:           cfg.Completion.Store,
		ChainResponses:  cfg.Completion.ChainResponses,
		MaxOutputTokens: cfg.Completion.MaxOutputTokens,
		Timeout:         cfg.Completion.Timeout,
	}, a.logger.With("component", "agent"))

	a.logger.Debug("app wired",
		"provider", p.Name(),
		"model", a.agent.Model(),
		"storage", cfg.Storage.Dir,
		"ephemeral", opts.ephemeral,
	)
	return nil
}

func (a *app) Close() {
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

// imageSupport reports whether the configured model accepts photos.
func (a *app) imageSupport() provider.ImageSupport {
	pc := a.cfg.GetProviderConfig(a.cfg.Provider)
	return provider.DetectImageSupport(a.provider.Name(), a.agent.Model(), pc.ImageInput)
}

func openRegistry(cfg *config.Config, logger *slog.Logger) (*registry.Registry, error) {
	path := cfg.RegistryPath()
	lockPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".lock"
	locker, err := registry.NewLocker(cfg.Storage.Locking, lockPath, cfg.Storage.LockTimeout, logger)
	if err != nil {
		return nil, err
	}
	return registry.New(path, locker, logger.With("component", "registry"))
}

// buildProvider creates a Provider instance based on configuration.
func buildProvider(cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	name := cfg.Provider
	pc := cfg.GetProviderConfig(name)
	defaults := config.LoadProviderDefaults()[name]

	apiKey := pc.APIKey
	if apiKey == "" {
		return nil, fmt.Errorf(
			"API key not configured for provider %q.\n"+
				"Set it via:\n"+
				"  - config file: providers.%s.api_key\n"+
				"  - environment: LLM_API_KEY\n"+
				"  - run: threadline init",
			name, name,
		)
	}

	// Determine model: CLI flag > config file > provider defaults YAML
	model := cfg.Model
	if model == "" {
		model = pc.Model
	}
	if model == "" {
		model = defaults.DefaultModel
	}

	baseURL := pc.BaseURL
	if baseURL == "" {
		baseURL = defaults.BaseURL
	}

	var p provider.Provider
	switch name {
	case "anthropic":
		p = provider.NewAnthropicProvider(apiKey, baseURL, model)
	case "openai":
		p = provider.NewOpenAIProvider(apiKey, baseURL, model)
	default:
		// All other providers use the OpenAI-compatible API
		if baseURL == "" {
			return nil, fmt.Errorf("unknown provider %q; set providers.%s.base_url in config", name, name)
		}
		p = provider.NewOpenAIProvider(apiKey, baseURL, model)
	}
	return provider.WithRetry(p, cfg.Completion.Retries, logger.With("component", "provider")), nil
}
