// Package bot provides the Telegram bot initialization and update handling.
package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/texturin/catatbot/internal/config"
	"github.com/texturin/catatbot/internal/engine"
	"github.com/texturin/catatbot/internal/logger"
	"github.com/texturin/catatbot/internal/models"
	"github.com/texturin/catatbot/internal/session"
)

// telegramAPI is the slice of the Telegram client the handlers use; kept as
// an interface so handlers are testable without network calls.
type telegramAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*tgmodels.File, error)
	FileDownloadLink(f *tgmodels.File) string
}

var _ telegramAPI = (*bot.Bot)(nil)

// Bot wraps the Telegram bot with application dependencies.
type Bot struct {
	api      *bot.Bot
	cfg      *config.Config
	engine   *engine.Engine
	sessions *session.Store

	// username is the bot's own @name, filled in at startup and used for
	// mention detection.
	username string

	httpClient *http.Client
}

// New creates a new Bot instance.
func New(cfg *config.Config, eng *engine.Engine, sessions *session.Store) (*Bot, error) {
	b := &Bot{
		cfg:        cfg,
		engine:     eng,
		sessions:   sessions,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	opts := []bot.Option{
		bot.WithMiddlewares(b.allowlistMiddleware),
		bot.WithDefaultHandler(b.handleUpdate),
	}

	telegramBot, err := bot.New(cfg.TelegramBotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	b.api = telegramBot

	return b, nil
}

// Start resolves the bot's own identity and begins polling for updates.
func (b *Bot) Start(ctx context.Context) {
	if me, err := b.api.GetMe(ctx); err != nil {
		logger.Log.Warn().Err(err).Msg("GetMe failed, mention detection by entity only")
	} else {
		b.username = me.Username
	}

	logger.Log.Info().Msg("Bot started polling")
	b.api.Start(ctx)
}

// allowlistMiddleware drops updates from chats outside the allowlist. The
// bot records money; it never answers strangers, not even to refuse.
func (b *Bot) allowlistMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, tgBot *bot.Bot, update *tgmodels.Update) {
		msg := update.Message
		if msg == nil {
			return
		}

		chatID := strconv.FormatInt(msg.Chat.ID, 10)
		if !b.cfg.IsChatAllowed(chatID) {
			logger.Log.Warn().
				Str("chat_id", logger.HashID(chatID)).
				Msg("Blocked message from non-allowlisted chat")
			return
		}

		next(ctx, tgBot, update)
	}
}

// handleUpdate maps one Telegram message onto the engine and sends back
// whatever the engine answers.
func (b *Bot) handleUpdate(ctx context.Context, tgBot *bot.Bot, update *tgmodels.Update) {
	b.handleUpdateCore(ctx, tgBot, update)
}

// handleUpdateCore is the testable implementation of handleUpdate.
func (b *Bot) handleUpdateCore(ctx context.Context, tg telegramAPI, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if msg.From.IsBot {
		return
	}

	in := b.inboundFrom(ctx, tg, msg)
	out := b.engine.HandleMessage(ctx, in)
	if out.Response == "" {
		return
	}

	sent, err := tg.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: msg.Chat.ID,
		Text:   out.Response,
		ReplyParameters: &tgmodels.ReplyParameters{
			MessageID: msg.ID,
		},
	})
	if err != nil {
		logger.Log.Error().Err(err).
			Str("chat_id", logger.HashID(in.Key.ChatID)).
			Msg("send failed")
		return
	}

	// The sent message id is how a later quoted reply finds its way back to
	// this session or report.
	b.sessions.RecordBotMessage(messageKey(in.Key.ChatID, sent.ID), session.BotMessageRef{
		Key:      in.Key,
		EventID:  out.EventID,
		IsReport: out.IsReport,
	})
}

// messageKey qualifies a Telegram message id with its chat. Message ids
// are per-chat counters, so the bare id collides across chats.
func messageKey(chatID string, msgID int) string {
	return chatID + ":" + strconv.Itoa(msgID)
}

// inboundFrom flattens a Telegram message into the engine's transport
// neutral shape.
func (b *Bot) inboundFrom(ctx context.Context, tg telegramAPI, msg *tgmodels.Message) engine.Inbound {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	userID := strconv.FormatInt(msg.From.ID, 10)

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	in := engine.Inbound{
		MessageID:   strconv.Itoa(msg.ID),
		Key:         models.NewSessionKey(chatID, userID),
		Text:        text,
		SenderName:  senderName(msg.From),
		MentionsBot: b.mentionsMe(msg),
		At:          time.Unix(int64(msg.Date), 0),
	}

	if msg.ReplyToMessage != nil {
		in.QuotedMessageID = messageKey(chatID, msg.ReplyToMessage.ID)
	}

	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		data, err := b.downloadFile(ctx, tg, largest.FileID)
		if err != nil {
			logger.Log.Error().Err(err).
				Str("chat_id", logger.HashID(chatID)).
				Msg("photo download failed")
		} else {
			in.Media = data
			in.MediaMIME = "image/jpeg"
		}
	}

	return in
}

// mentionsMe reports whether the message @-mentions the bot.
func (b *Bot) mentionsMe(msg *tgmodels.Message) bool {
	if b.username == "" {
		return false
	}
	at := "@" + strings.ToLower(b.username)
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	return strings.Contains(strings.ToLower(text), at)
}

func senderName(u *tgmodels.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

// downloadFile fetches a Telegram file's bytes via its download link.
func (b *Bot) downloadFile(ctx context.Context, tg telegramAPI, fileID string) ([]byte, error) {
	file, err := tg.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tg.FileDownloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
