package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/apexion-ai/threadline/internal/config"
)

func newInitCmd() *cobra.Command {
	var global bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive configuration wizard",
		Long:  "Guides you through setting up threadline: choose a provider, enter your API key, optionally a Telegram token, and save the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "threadline.yaml"
			if global {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("get home dir: %w", err)
				}
				path = filepath.Join(home, ".config", "threadline", "config.yaml")
			}
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), path)
		},
	}
	cmd.Flags().BoolVar(&global, "global", false, "write ~/.config/threadline/config.yaml instead of ./threadline.yaml")
	return cmd
}

// initProviders is the wizard's menu, in display order.
var initProviders = []string{"openai", "anthropic", "deepseek", "groq", "openrouter"}

func runInit(in io.Reader, out io.Writer, configPath string) error {
	reader := bufio.NewReader(in)
	ask := func(prompt string) string {
		fmt.Fprint(out, prompt)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line)
	}

	fmt.Fprintln(out, "Welcome to the threadline configuration wizard!")
	fmt.Fprintln(out)

	defaults := config.LoadProviderDefaults()
	fmt.Fprintln(out, "Available providers:")
	for i, p := range initProviders {
		fmt.Fprintf(out, "  %d. %s (%s)\n", i+1, p, defaults[p].DefaultModel)
	}
	selectedIdx := 0
	if n, err := strconv.Atoi(ask(fmt.Sprintf("\nSelect provider (1-%d) [1]: ", len(initProviders)))); err == nil && n >= 1 && n <= len(initProviders) {
		selectedIdx = n - 1
	}
	providerName := initProviders[selectedIdx]
	fmt.Fprintf(out, "Selected: %s\n\n", providerName)

	apiKey := ask(fmt.Sprintf("Enter API key for %s: ", providerName))
	if apiKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	model := ask(fmt.Sprintf("Model [%s]: ", defaults[providerName].DefaultModel))
	token := ask("Telegram bot token (optional, enter to skip): ")

	configData := map[string]any{
		"provider": providerName,
		"providers": map[string]any{
			providerName: map[string]any{
				"api_key": apiKey,
			},
		},
		"storage": map[string]any{
			"dir": "conversations",
		},
	}
	if model != "" {
		configData["model"] = model
	}
	if token != "" {
		configData["telegram"] = map[string]any{"token": token}
	}

	data, err := yaml.Marshal(configData)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "\nConfig file already exists at %s\n", configPath)
		if strings.ToLower(ask("Overwrite? [y/N]: ")) != "y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(out, "\nConfig saved to %s\n", configPath)
	fmt.Fprintln(out, "You can now run: threadline chat  (or threadline serve)")
	return nil
}
