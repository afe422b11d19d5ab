package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/apexion-ai/threadline/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		addr  string
		noBot bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP chat API (and the Telegram bot when a token is configured)",
		Example: `  threadline serve
  threadline serve --addr 0.0.0.0:8080 --no-bot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr, noBot)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.host/server.port)")
	cmd.Flags().BoolVar(&noBot, "no-bot", false, "do not start the Telegram bot even if a token is set")
	return cmd
}

func runServe(ctx context.Context, addr string, noBot bool) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if addr == "" {
		addr = a.cfg.Server.Addr()
	}
	srv := server.New(a.agent, server.Options{
		Addr:         addr,
		RateLimit:    a.cfg.Server.RateLimit,
		RateBurst:    a.cfg.Server.RateBurst,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
		Logger:       a.logger.With("component", "http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	if a.loader != nil {
		if err := a.loader.Watch(gctx); err != nil {
			a.logger.Warn("system prompt hot reload disabled", "error", err)
		}
	}
	g.Go(func() error { return srv.Run(gctx) })
	if a.cfg.Telegram.Token != "" && !noBot {
		g.Go(func() error { return runBotService(gctx, a) })
	} else if !noBot {
		a.logger.Info("telegram token not set; bot disabled")
	}
	return g.Wait()
}
