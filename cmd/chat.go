package cmd

import (
	"context"
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/apexion-ai/threadline/internal/conversation"
	"github.com/apexion-ai/threadline/internal/tui"
)

type chatOptions struct {
	conversationID string
	ephemeral      bool
}

func newChatCmd() *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the model from the terminal",
		Example: `  threadline chat
  threadline chat --conversation 3f0c2a9e-...
  threadline chat --ephemeral`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "resume an existing conversation by id")
	cmd.Flags().BoolVar(&opts.ephemeral, "ephemeral", false, "keep the conversation in memory only")
	return cmd
}

// runChat starts the interactive chat mode.
func runChat(ctx context.Context, opts chatOptions) error {
	convID := opts.conversationID
	if convID == "" {
		convID = conversation.NewID()
	} else if !conversation.ValidID(convID) {
		return errInvalidConversation(convID)
	}

	appOpts := appOptions{ephemeral: opts.ephemeral}
	if useTUI {
		// The TUI owns the terminal; logs still reach the log file.
		appOpts.console = io.Discard
	}
	a, err := newApp(appOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.loader != nil {
		if err := a.loader.Watch(ctx); err != nil {
			a.logger.Warn("system prompt hot reload disabled", "error", err)
		}
	}

	imagesOK := a.imageSupport().Supported
	logger := a.logger.With("component", "chat")

	if !useTUI {
		loop := tui.NewLoop(a.agent, tui.NewPlainIO(), convID, imagesOK, logger)
		return loop.Run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ui, program := tui.NewTuiIO(tui.TUIConfig{
		Version:        displayVersion(),
		Provider:       a.provider.Name(),
		Model:          a.agent.Model(),
		ConversationID: convID,
		Ephemeral:      opts.ephemeral,
		ShowWelcome:    true,
	}, tea.WithContext(ctx))

	loop := tui.NewLoop(a.agent, ui, convID, imagesOK, logger)
	loopErr := make(chan error, 1)
	go func() {
		err := loop.Run(ctx)
		ui.Done(err)
		loopErr <- err
	}()

	_, runErr := program.Run()
	// Unblock a loop still waiting for input, then let it observe ctx.
	cancel()
	ui.Close()
	if err := <-loopErr; err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	return nil
}
