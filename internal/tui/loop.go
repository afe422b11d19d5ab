package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/apexion-ai/threadline/internal/agent"
	"github.com/apexion-ai/threadline/internal/conversation"
	"github.com/apexion-ai/threadline/internal/provider"
)

const defaultHistoryLines = 10

// Engine is what the chat loop needs from the agent.
type Engine interface {
	Chat(ctx context.Context, conversationID, userText string) (agent.Result, error)
	ChatImage(ctx context.Context, conversationID, caption string, img provider.Image) (agent.Result, error)
	History(conversationID string) ([]conversation.Record, error)
	LatestSummary(conversationID string) (string, bool, error)
	Usage(conversationID string) string
}

// Loop reads user input, runs turns and handles slash commands.
type Loop struct {
	engine   Engine
	io       IO
	convID   string
	imagesOK bool
	logger   *slog.Logger
}

// NewLoop creates a chat loop. An empty convID starts a new conversation on
// the first turn.
func NewLoop(engine Engine, uiIO IO, convID string, imagesOK bool, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{engine: engine, io: uiIO, convID: convID, imagesOK: imagesOK, logger: logger}
}

// ConversationID returns the conversation the loop is appending to.
func (l *Loop) ConversationID() string { return l.convID }

// Run blocks until the user exits, input ends or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.io.SetConversation(l.convID)
	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := l.io.ReadInput()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := l.command(input); quit {
				return nil
			}
			continue
		}

		l.io.UserMessage(input)
		l.turn(ctx, input)
	}
}

func (l *Loop) turn(ctx context.Context, input string) {
	l.io.ThinkingStart()

	var (
		res agent.Result
		err error
	)
	paths, caption := detectImagePath(input)
	switch {
	case len(paths) > 0 && l.imagesOK:
		var img provider.Image
		img, err = readImage(paths[0])
		if err == nil {
			res, err = l.engine.ChatImage(ctx, l.convID, caption, img)
		}
	default:
		if len(paths) > 0 {
			l.io.SystemMessage("The current model does not accept images; sending the text as is.")
		}
		res, err = l.engine.Chat(ctx, l.convID, input)
	}

	if err != nil {
		l.logger.Error("turn failed", "conversation_id", l.convID, "error", err)
		l.io.Error(err.Error())
		return
	}
	if l.convID != res.ConversationID {
		l.convID = res.ConversationID
		l.io.SetConversation(l.convID)
	}
	l.io.Reply(res.AssistantText)
}

// command handles a slash command. It returns true when the loop should exit.
func (l *Loop) command(input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/exit", "/quit":
		return true
	case "/help":
		var b strings.Builder
		for _, it := range BuiltinSlashCommands() {
			fmt.Fprintf(&b, "%-10s %s\n", it.Name, it.Desc)
		}
		l.io.SystemMessage(strings.TrimRight(b.String(), "\n"))
	case "/new":
		l.convID = conversation.NewID()
		l.io.SetConversation(l.convID)
		l.io.SystemMessage("Started conversation " + l.convID)
	case "/id":
		if l.convID == "" {
			l.io.SystemMessage("No conversation yet.")
		} else {
			l.io.SystemMessage(l.convID)
		}
	case "/summary":
		l.showSummary()
	case "/usage":
		if l.convID == "" {
			l.io.SystemMessage("No conversation yet.")
		} else {
			l.io.SystemMessage(l.engine.Usage(l.convID))
		}
	case "/history":
		n := defaultHistoryLines
		if len(fields) > 1 {
			if v, err := strconv.Atoi(fields[1]); err == nil && v > 0 {
				n = v
			}
		}
		l.showHistory(n)
	default:
		l.io.Error(fmt.Sprintf("unknown command %s (try /help)", fields[0]))
	}
	return false
}

func (l *Loop) showSummary() {
	if l.convID == "" {
		l.io.SystemMessage("No conversation yet.")
		return
	}
	summary, ok, err := l.engine.LatestSummary(l.convID)
	switch {
	case err != nil:
		l.io.Error(err.Error())
	case !ok:
		l.io.SystemMessage("No summary yet.")
	default:
		l.io.SystemMessage(summary)
	}
}

func (l *Loop) showHistory(n int) {
	if l.convID == "" {
		l.io.SystemMessage("No conversation yet.")
		return
	}
	records, err := l.engine.History(l.convID)
	if err != nil {
		l.io.Error(err.Error())
		return
	}
	var live []conversation.Record
	for _, r := range records {
		if r.IsLive() {
			live = append(live, r)
		}
	}
	if len(live) == 0 {
		l.io.SystemMessage("No messages yet.")
		return
	}
	if len(live) > n {
		live = live[len(live)-n:]
	}
	lines := make([]string, 0, len(live))
	for _, r := range live {
		who := "User"
		if r.Role == conversation.RoleAssistant {
			who = "Assistant"
		}
		lines = append(lines, who+": "+truncate(strings.ReplaceAll(r.Content, "\n", " "), 200))
	}
	l.io.SystemMessage(strings.Join(lines, "\n"))
}
