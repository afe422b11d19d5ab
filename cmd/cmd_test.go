package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apexion-ai/threadline/internal/config"
	"github.com/apexion-ai/threadline/internal/logging"
	"github.com/apexion-ai/threadline/internal/registry"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"THREADLINE_PROVIDER", "THREADLINE_MODEL", "LLM_MODEL",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "LLM_API_KEY", "LLM_BASE_URL",
		"TELEGRAM_TOKEN", "THREADLINE_STORAGE_DIR", "THREADLINE_LOG_LEVEL",
		"THREADLINE_HOST", "THREADLINE_PORT",
	} {
		t.Setenv(k, "")
	}
}

func TestRunInit(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "threadline.yaml")
	in := strings.NewReader("2\nsk-ant-test\n\n123:abc\n")
	var out bytes.Buffer

	if err := runInit(in, &out, path); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	if !strings.Contains(out.String(), "Config saved to") {
		t.Errorf("output = %q", out.String())
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", cfg.Provider)
	}
	if got := cfg.GetProviderConfig("anthropic").APIKey; got != "sk-ant-test" {
		t.Errorf("APIKey = %q", got)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("Token = %q", cfg.Telegram.Token)
	}
	if cfg.Model != "" {
		t.Errorf("Model = %q, want empty (provider default)", cfg.Model)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}
}

func TestRunInit_EmptyKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threadline.yaml")
	err := runInit(strings.NewReader("1\n\n"), &bytes.Buffer{}, path)
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("config file should not be written")
	}
}

func TestRunInit_KeepsExistingUnlessConfirmed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threadline.yaml")
	if err := os.WriteFile(path, []byte("provider: openai\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := runInit(strings.NewReader("1\nsk-test\n\n\nn\n"), &out, path); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	if !strings.Contains(out.String(), "Aborted.") {
		t.Errorf("output = %q", out.String())
	}
	data, _ := os.ReadFile(path)
	if string(data) != "provider: openai\n" {
		t.Errorf("file overwritten: %q", data)
	}
}

func TestBuildProvider(t *testing.T) {
	logger := logging.Discard()

	tests := []struct {
		name     string
		cfg      func(*config.Config)
		wantName string
		wantErr  string
	}{
		{
			name:    "missing key",
			cfg:     func(c *config.Config) { c.Provider = "openai" },
			wantErr: "API key not configured",
		},
		{
			name: "openai",
			cfg: func(c *config.Config) {
				c.Provider = "openai"
				c.Providers = map[string]*config.ProviderConfig{"openai": {APIKey: "k"}}
			},
			wantName: "openai",
		},
		{
			name: "anthropic",
			cfg: func(c *config.Config) {
				c.Provider = "anthropic"
				c.Providers = map[string]*config.ProviderConfig{"anthropic": {APIKey: "k"}}
			},
			wantName: "anthropic",
		},
		{
			name: "compatible provider from defaults",
			cfg: func(c *config.Config) {
				c.Provider = "deepseek"
				c.Providers = map[string]*config.ProviderConfig{"deepseek": {APIKey: "k"}}
			},
			wantName: "deepseek",
		},
		{
			name: "unknown provider without base url",
			cfg: func(c *config.Config) {
				c.Provider = "acme"
				c.Providers = map[string]*config.ProviderConfig{"acme": {APIKey: "k"}}
			},
			wantErr: "unknown provider",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.cfg(cfg)
			p, err := buildProvider(cfg, logger)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildProvider: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestBuildProvider_ModelPrecedence(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider = "groq"
	cfg.Providers = map[string]*config.ProviderConfig{"groq": {APIKey: "k", Model: "from-provider"}}

	p, err := buildProvider(cfg, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if p.DefaultModel() != "from-provider" {
		t.Errorf("DefaultModel() = %q, want from-provider", p.DefaultModel())
	}

	cfg.Model = "from-flag"
	p, err = buildProvider(cfg, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if p.DefaultModel() != "from-flag" {
		t.Errorf("DefaultModel() = %q, want from-flag", p.DefaultModel())
	}
}

func TestSchemaFor(t *testing.T) {
	for _, name := range []string{"record", "registry"} {
		data, err := schemaFor(name)
		if err != nil {
			t.Fatalf("schemaFor(%s): %v", name, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatalf("schema %s is not JSON: %v", name, err)
		}
		if doc["title"] == nil {
			t.Errorf("schema %s has no title", name)
		}
	}

	data, _ := schemaFor("record")
	for _, field := range []string{"conversation_id", "role", "content", "ts"} {
		if !strings.Contains(string(data), `"`+field+`"`) {
			t.Errorf("record schema missing %q", field)
		}
	}

	if _, err := schemaFor("nope"); err == nil {
		t.Error("expected error for unknown schema")
	}
}

func TestRenderRegistry(t *testing.T) {
	if got := renderRegistry(nil, "2026-10-15"); got != "registry is empty" {
		t.Errorf("empty = %q", got)
	}

	entries := map[string]registry.Entry{
		"42": {
			UserID:         "42",
			Username:       "ada",
			ConversationID: "conv-a",
			InFlight:       true,
			DailyUsage:     map[string]int{"2026-10-15": 7, "2026-10-14": 3},
			UpdatedAt:      time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
		},
		"7": {UserID: "7", ConversationID: "conv-b"},
	}
	out := renderRegistry(entries, "2026-10-15")
	for _, want := range []string{"USER", "ada", "conv-a", "conv-b", "true", "7"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "conv-a") > strings.Index(out, "conv-b") {
		t.Error("rows not sorted by user id")
	}
}

func TestFormatEntry(t *testing.T) {
	since := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	status := 101
	out := formatEntry(registry.Entry{
		UserID:          "42",
		FullName:        "Ada L",
		ProfileURL:      "https://t.me/ada",
		ConversationID:  "conv-a",
		InFlight:        true,
		InFlightSince:   &since,
		StatusMessageID: &status,
		DailyUsage:      map[string]int{"2026-10-15": 2},
	})
	for _, want := range []string{"Ada L", "https://t.me/ada", "since 2026-10-15T08:00:00Z", "status msg:    101", "usage 2026-10-15: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
