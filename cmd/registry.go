package cmd

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/apexion-ai/threadline/internal/config"
	"github.com/apexion-ai/threadline/internal/logging"
	"github.com/apexion-ai/threadline/internal/registry"
)

func newRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and repair the Telegram session registry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List known users",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				reg, _, err := openRegistryOnly()
				if err != nil {
					return err
				}
				entries, err := reg.List()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderRegistry(entries, time.Now().UTC().Format(registry.DateLayout)))
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <user-id>",
			Short: "Print one user's entry",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				reg, _, err := openRegistryOnly()
				if err != nil {
					return err
				}
				e, ok, err := reg.Get(args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("user %s not found", args[0])
				}
				fmt.Fprint(cmd.OutOrStdout(), formatEntry(e))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear-status <user-id>",
			Short: "Release a stuck in-flight flag",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				reg, logger, err := openRegistryOnly()
				if err != nil {
					return err
				}
				if _, ok, err := reg.Get(args[0]); err != nil {
					return err
				} else if !ok {
					return fmt.Errorf("user %s not found", args[0])
				}
				if err := reg.ClearStatus(args[0]); err != nil {
					return err
				}
				logger.Info("status cleared", "user_id", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "housekeep",
			Short: "Run one maintenance pass now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := initConfig()
				if err != nil {
					return err
				}
				reg, logger, err := openRegistryWith(cfg)
				if err != nil {
					return err
				}
				hk, err := registry.NewHousekeeper(reg, registry.HousekeepingConfig{
					Schedule:           cfg.Housekeeping.Schedule,
					StaleAfter:         cfg.Housekeeping.StaleInFlight,
					UsageRetentionDays: cfg.Housekeeping.UsageRetentionDays,
				}, logger)
				if err != nil {
					return err
				}
				hk.RunOnce()
				return nil
			},
		},
	)
	return cmd
}

// openRegistryOnly opens the registry without building a provider, so the
// admin commands work without an API key.
func openRegistryOnly() (*registry.Registry, *slog.Logger, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, nil, err
	}
	return openRegistryWith(cfg)
}

func openRegistryWith(cfg *config.Config) (*registry.Registry, *slog.Logger, error) {
	logger, _, err := logging.New(logging.Options{Level: cfg.Log.Level})
	if err != nil {
		return nil, nil, err
	}
	reg, err := openRegistry(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return reg, logger, nil
}

func renderRegistry(entries map[string]registry.Entry, today string) string {
	if len(entries) == 0 {
		return "registry is empty"
	}
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		e := entries[id]
		rows = append(rows, []string{
			id,
			e.Username,
			e.ConversationID,
			strconv.FormatBool(e.InFlight),
			strconv.Itoa(e.DailyUsage[today]),
			e.UpdatedAt.Format(time.DateTime),
		})
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("USER", "USERNAME", "CONVERSATION", "IN FLIGHT", "TODAY", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	return t.String()
}

func formatEntry(e registry.Entry) string {
	s := fmt.Sprintf("user:          %s\n", e.UserID)
	if e.FullName != "" {
		s += fmt.Sprintf("name:          %s\n", e.FullName)
	}
	if e.ProfileURL != "" {
		s += fmt.Sprintf("profile:       %s\n", e.ProfileURL)
	}
	s += fmt.Sprintf("conversation:  %s\n", e.ConversationID)
	s += fmt.Sprintf("in flight:     %t", e.InFlight)
	if e.InFlightSince != nil {
		s += fmt.Sprintf(" (since %s)", e.InFlightSince.Format(time.RFC3339))
	}
	s += "\n"
	if e.StatusMessageID != nil {
		s += fmt.Sprintf("status msg:    %d\n", *e.StatusMessageID)
	}
	days := make([]string, 0, len(e.DailyUsage))
	for d := range e.DailyUsage {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		s += fmt.Sprintf("usage %s: %d\n", d, e.DailyUsage[d])
	}
	s += fmt.Sprintf("updated:       %s\n", e.UpdatedAt.Format(time.RFC3339))
	return s
}
