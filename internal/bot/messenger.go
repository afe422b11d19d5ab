package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// maxDownloadBytes caps photo downloads. Telegram bots cannot fetch files
// larger than 20MB anyway.
const maxDownloadBytes = 20 << 20

// Messenger is the subset of the chat platform the handlers need.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, markdown bool) (messageID int, err error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	Typing(ctx context.Context, chatID int64) error
	// DownloadFile returns the file content and its server-side path.
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

// Photo is one size variant of an incoming photo.
type Photo struct {
	FileID string
	Width  int
	Height int
}

// Inbound is a platform-neutral incoming message.
type Inbound struct {
	ChatID    int64
	UserID    int64
	MessageID int
	FullName  string
	Username  string
	// Command is set for /commands, without the slash or bot suffix.
	Command string
	// Text is the message text, or the caption for photos.
	Text   string
	Photos []Photo
}

// Telegram implements Messenger on the Bot API with paced requests.
type Telegram struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewTelegram authenticates with the Bot API. sendRate is requests per second.
func NewTelegram(token string, sendRate float64, logger *slog.Logger) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	if sendRate <= 0 {
		sendRate = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram bot authorized", "username", api.Self.UserName)
	return &Telegram{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(sendRate), 1),
		logger:  logger,
	}, nil
}

func (t *Telegram) SendText(ctx context.Context, chatID int64, text string, markdown bool) (int, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if markdown {
		msg.ParseMode = tgbotapi.ModeMarkdownV2
	}
	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := t.api.Request(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (t *Telegram) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := t.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (t *Telegram) Typing(ctx context.Context, chatID int64) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := t.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (t *Telegram) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	f, err := t.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Link(t.api.Token), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := t.api.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	return data, f.FilePath, nil
}

// Updates long-polls the Bot API until ctx is done.
func (t *Telegram) Updates(ctx context.Context) <-chan Inbound {
	out := make(chan Inbound)
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.api.GetUpdatesChan(u)

	go func() {
		defer close(out)
		defer t.api.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				in, ok := inboundFromUpdate(upd)
				if !ok {
					continue
				}
				select {
				case out <- in:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// inboundFromUpdate keeps private-chat style messages with a known sender.
func inboundFromUpdate(u tgbotapi.Update) (Inbound, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return Inbound{}, false
	}
	in := Inbound{
		ChatID:    m.Chat.ID,
		UserID:    m.From.ID,
		MessageID: m.MessageID,
		FullName:  strings.TrimSpace(m.From.FirstName + " " + m.From.LastName),
		Username:  m.From.UserName,
		Text:      m.Text,
	}
	if m.IsCommand() {
		in.Command = m.Command()
		in.Text = m.CommandArguments()
	}
	if len(m.Photo) > 0 {
		in.Text = m.Caption
		for _, p := range m.Photo {
			in.Photos = append(in.Photos, Photo{FileID: p.FileID, Width: p.Width, Height: p.Height})
		}
	}
	if in.Command == "" && in.Text == "" && len(in.Photos) == 0 {
		return Inbound{}, false
	}
	return in, true
}
