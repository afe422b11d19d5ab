// Package bot serves conversations over Telegram. Each user has one active
// conversation and at most one turn in flight at a time.
package bot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/apexion-ai/threadline/internal/agent"
	"github.com/apexion-ai/threadline/internal/chunker"
	"github.com/apexion-ai/threadline/internal/dispatch"
	"github.com/apexion-ai/threadline/internal/provider"
	"github.com/apexion-ai/threadline/internal/registry"
)

const (
	msgGreeting   = "Hi! Ready to help. Commands: /newdialog, /help"
	msgNewDialog  = "Starting a new dialog. The previous context is saved. Tell me what we are working on."
	msgBusy       = "I'm still working on your previous question. I'll answer shortly and we can continue."
	msgStatus     = "⏳ thinking…"
	msgFailed     = "⚠️ Something went wrong. Try again?"
	msgNoImages   = "The current model does not accept images. Please describe the picture in text."
	msgUnknownCmd = "Unknown command. See /help."
	msgQuotaFmt   = "Daily message limit reached (up to %d per day). Let's continue tomorrow."
)

// Engine runs conversation turns.
type Engine interface {
	Chat(ctx context.Context, conversationID, userText string) (agent.Result, error)
	ChatImage(ctx context.Context, conversationID, caption string, img provider.Image) (agent.Result, error)
}

// Options tune the handlers.
type Options struct {
	DailyLimit   int
	ChunkLimit   int
	ImageSupport provider.ImageSupport
	// TypingInterval is how often the typing indicator is refreshed.
	TypingInterval time.Duration
	// ErrorNoticeTTL is how long the failure notice stays visible.
	ErrorNoticeTTL time.Duration
	// TurnTimeout bounds one engine turn. 0 means no limit.
	TurnTimeout time.Duration
	Logger      *slog.Logger
}

// Bot routes inbound messages to the engine through the session registry
// and the per-user dispatch queue.
type Bot struct {
	msgr     Messenger
	sessions *registry.Registry
	engine   Engine
	queue    *dispatch.Queue
	opts     Options
	logger   *slog.Logger
}

// New creates a Bot.
func New(msgr Messenger, sessions *registry.Registry, engine Engine, queue *dispatch.Queue, opts Options) *Bot {
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = 4 * time.Second
	}
	if opts.ErrorNoticeTTL < 0 {
		opts.ErrorNoticeTTL = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		msgr:     msgr,
		sessions: sessions,
		engine:   engine,
		queue:    queue,
		opts:     opts,
		logger:   logger.With("component", "bot"),
	}
}

// Run handles inbound messages until the channel closes or ctx is done.
func (b *Bot) Run(ctx context.Context, inbound <-chan Inbound) error {
	b.logger.Info("bot started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-inbound:
			if !ok {
				return nil
			}
			b.Handle(ctx, in)
		}
	}
}

// Handle processes one inbound message. Turns are queued; everything else
// completes before Handle returns.
func (b *Bot) Handle(ctx context.Context, in Inbound) {
	userID := strconv.FormatInt(in.UserID, 10)
	log := b.logger.With("user_id", userID, "chat_id", in.ChatID)

	if err := b.sessions.UpdateProfile(userID, in.FullName, in.Username); err != nil {
		log.Warn("update profile failed", "error", err)
	}

	switch in.Command {
	case "":
		b.handleMessage(ctx, log, userID, in)
	case "start":
		convID, err := b.sessions.GetOrCreateActiveConversation(userID)
		if err != nil {
			b.fail(ctx, log, in.ChatID, "resolve conversation", err)
			return
		}
		b.reply(ctx, log, in.ChatID, msgGreeting)
		log.Info("/start", "conversation_id", convID)
	case "newdialog":
		convID, err := b.sessions.StartNewConversation(userID)
		if err != nil {
			b.fail(ctx, log, in.ChatID, "start conversation", err)
			return
		}
		b.reply(ctx, log, in.ChatID, msgNewDialog)
		log.Info("/newdialog", "conversation_id", convID)
	case "help":
		if _, err := b.msgr.SendText(ctx, in.ChatID, helpText(), true); err != nil {
			log.Warn("send help failed", "error", err)
		}
	default:
		b.reply(ctx, log, in.ChatID, msgUnknownCmd)
	}
}

func (b *Bot) handleMessage(ctx context.Context, log *slog.Logger, userID string, in Inbound) {
	if len(in.Photos) > 0 && !b.opts.ImageSupport.Supported {
		log.Info("photo rejected", "reason", b.opts.ImageSupport.Reason)
		b.reply(ctx, log, in.ChatID, msgNoImages)
		return
	}

	convID, err := b.sessions.GetOrCreateActiveConversation(userID)
	if err != nil {
		b.fail(ctx, log, in.ChatID, "resolve conversation", err)
		return
	}
	log = log.With("conversation_id", convID)

	allowed, err := b.sessions.CanConsumeMessage(userID, b.opts.DailyLimit)
	if err != nil {
		b.fail(ctx, log, in.ChatID, "check quota", err)
		return
	}
	if !allowed {
		b.reply(ctx, log, in.ChatID, fmt.Sprintf(msgQuotaFmt, b.opts.DailyLimit))
		return
	}

	began, err := b.sessions.BeginInFlight(userID)
	if err != nil {
		b.fail(ctx, log, in.ChatID, "begin turn", err)
		return
	}
	if !began {
		b.reply(ctx, log, in.ChatID, msgBusy)
		return
	}

	// From here on the in-flight flag is ours and must be cleared on every path.
	statusID, err := b.msgr.SendText(ctx, in.ChatID, msgStatus, false)
	if err != nil {
		log.Warn("send status failed", "error", err)
		b.clearStatus(log, userID)
		return
	}
	if err := b.sessions.SetStatus(userID, statusID); err != nil {
		log.Warn("record status failed", "error", err)
	}
	// Usage is recorded before the turn runs so failed turns still count.
	if err := b.sessions.ConsumeMessage(userID); err != nil {
		log.Warn("record usage failed", "error", err)
	}

	job := func(jobCtx context.Context) {
		defer b.clearStatus(log, userID)
		if jobCtx.Err() != nil {
			log.Warn("turn abandoned at shutdown")
			delCtx, cancel := context.WithTimeout(context.WithoutCancel(jobCtx), 5*time.Second)
			defer cancel()
			_ = b.msgr.Delete(delCtx, in.ChatID, statusID)
			return
		}
		b.runTurn(jobCtx, log, convID, statusID, in)
	}
	if err := b.queue.Submit(userID, job); err != nil {
		log.Warn("enqueue turn failed", "error", err)
		b.clearStatus(log, userID)
		_ = b.msgr.Delete(ctx, in.ChatID, statusID)
		b.reply(ctx, log, in.ChatID, msgBusy)
	}
}

func (b *Bot) runTurn(ctx context.Context, log *slog.Logger, convID string, statusID int, in Inbound) {
	if b.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.TurnTimeout)
		defer cancel()
	}

	stopTyping := b.typingPulse(ctx, in.ChatID)
	res, err := b.execute(ctx, convID, in)
	stopTyping()

	if err != nil {
		log.Error("turn failed", "error", err)
		if editErr := b.msgr.EditText(ctx, in.ChatID, statusID, msgFailed); editErr != nil {
			log.Debug("edit status failed", "error", editErr)
		}
		if b.opts.ErrorNoticeTTL > 0 {
			select {
			case <-time.After(b.opts.ErrorNoticeTTL):
			case <-ctx.Done():
			}
		}
		// The notice removal must survive a cancelled turn context.
		_ = b.msgr.Delete(context.WithoutCancel(ctx), in.ChatID, statusID)
		return
	}

	if err := b.msgr.Delete(ctx, in.ChatID, statusID); err != nil {
		log.Debug("delete status failed", "error", err)
	}
	for _, chunk := range chunker.Split(res.AssistantText, b.opts.ChunkLimit) {
		if chunk == "" {
			continue
		}
		if _, err := b.msgr.SendText(ctx, in.ChatID, chunk, false); err != nil {
			log.Error("send reply failed", "error", err)
			return
		}
	}
	log.Info("turn complete", "response_id", res.ResponseID, "reply_chars", len([]rune(res.AssistantText)))
}

func (b *Bot) execute(ctx context.Context, convID string, in Inbound) (agent.Result, error) {
	if len(in.Photos) == 0 {
		return b.engine.Chat(ctx, convID, in.Text)
	}
	largest := largestPhoto(in.Photos)
	data, filePath, err := b.msgr.DownloadFile(ctx, largest.FileID)
	if err != nil {
		return agent.Result{}, err
	}
	img := provider.Image{
		Data:      base64.StdEncoding.EncodeToString(data),
		MediaType: mimeFromPath(filePath),
	}
	return b.engine.ChatImage(ctx, convID, strings.TrimSpace(in.Text), img)
}

// typingPulse refreshes the typing indicator until the returned func is called.
func (b *Bot) typingPulse(ctx context.Context, chatID int64) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(b.opts.TypingInterval)
		defer ticker.Stop()
		for {
			if err := b.msgr.Typing(ctx, chatID); err != nil && !errors.Is(err, context.Canceled) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (b *Bot) clearStatus(log *slog.Logger, userID string) {
	if err := b.sessions.ClearStatus(userID); err != nil {
		log.Error("clear status failed", "error", err)
	}
}

func (b *Bot) reply(ctx context.Context, log *slog.Logger, chatID int64, text string) {
	if _, err := b.msgr.SendText(ctx, chatID, text, false); err != nil {
		log.Warn("send reply failed", "error", err)
	}
}

func (b *Bot) fail(ctx context.Context, log *slog.Logger, chatID int64, op string, err error) {
	log.Error(op+" failed", "error", err)
	b.reply(ctx, log, chatID, msgFailed)
}

func largestPhoto(photos []Photo) Photo {
	best := photos[0]
	for _, p := range photos[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

func mimeFromPath(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
