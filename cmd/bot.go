package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/apexion-ai/threadline/internal/bot"
	"github.com/apexion-ai/threadline/internal/dispatch"
	"github.com/apexion-ai/threadline/internal/registry"
)

func newBotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot only",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.cfg.Telegram.Token == "" {
				return errors.New("telegram token not configured (telegram.token or TELEGRAM_TOKEN)")
			}
			if a.loader != nil {
				if err := a.loader.Watch(cmd.Context()); err != nil {
					a.logger.Warn("system prompt hot reload disabled", "error", err)
				}
			}
			return runBotService(cmd.Context(), a)
		},
	}
}

// runBotService polls Telegram until ctx is cancelled, then drains queued
// turns for up to 30 seconds.
func runBotService(ctx context.Context, a *app) error {
	cfg := a.cfg
	logger := a.logger.With("component", "telegram")

	reg, err := openRegistry(cfg, a.logger)
	if err != nil {
		return err
	}

	hk, err := registry.NewHousekeeper(reg, registry.HousekeepingConfig{
		Schedule:           cfg.Housekeeping.Schedule,
		StaleAfter:         cfg.Housekeeping.StaleInFlight,
		UsageRetentionDays: cfg.Housekeeping.UsageRetentionDays,
	}, a.logger.With("component", "housekeeping"))
	if err != nil {
		return err
	}
	hk.Start()
	defer hk.Stop()

	tg, err := bot.NewTelegram(cfg.Telegram.Token, cfg.Telegram.SendRate, logger)
	if err != nil {
		return err
	}

	queue := dispatch.New(dispatch.Options{
		Depth:       cfg.Telegram.QueueDepth,
		Concurrency: cfg.Telegram.Workers,
		Logger:      a.logger.With("component", "dispatch"),
	})

	support := a.imageSupport()
	b := bot.New(tg, reg, a.agent, queue, bot.Options{
		DailyLimit:   cfg.Telegram.DailyLimit,
		ChunkLimit:   cfg.Telegram.ChunkLimit,
		ImageSupport: support,
		TurnTimeout:  cfg.Completion.Timeout,
		Logger:       a.logger,
	})
	logger.Info("polling for updates",
		"model", a.agent.Model(),
		"images", support.Supported,
		"daily_limit", cfg.Telegram.DailyLimit,
	)

	runErr := b.Run(ctx, tg.Updates(ctx))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dispatch queue did not drain", "error", err)
	}
	logger.Info("bot stopped")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
