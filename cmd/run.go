package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apexion-ai/threadline/internal/conversation"
)

func newRunCmd() *cobra.Command {
	var (
		prompt         string
		conversationID string
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a single turn non-interactively",
		Example: `  threadline run -P "summarise our plan so far" --conversation 3f0c2a9e-...
  threadline run --prompt "hello" --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt / -P is required")
			}
			return runOnce(cmd, prompt, conversationID, asJSON)
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "P", "", "the user text for this turn")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "append to an existing conversation (default: new)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("prompt")

	return cmd
}

// runOnce executes one turn and prints the reply.
func runOnce(cmd *cobra.Command, prompt, conversationID string, asJSON bool) error {
	if conversationID == "" {
		conversationID = conversation.NewID()
	} else if !conversation.ValidID(conversationID) {
		return errInvalidConversation(conversationID)
	}

	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := a.agent.Chat(ctx, conversationID, prompt)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(out, res.AssistantText)
	fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", res.ConversationID)
	return nil
}

func errInvalidConversation(id string) error {
	return fmt.Errorf("invalid conversation id %q", id)
}
