// Package telegram delivers dashboard notifications to a single Telegram chat
// and answers a handful of bot commands from that chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/mission-control/internal/config"
	"github.com/harun/mission-control/internal/metrics"
	"github.com/rs/zerolog"
)

// MaxMessageLength is Telegram's per-message text limit
const MaxMessageLength = 4096

var ErrNotConfigured = errors.New("TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set")

// Bot sends messages to the configured chat
type Bot struct {
	api     *tgbotapi.BotAPI
	chatID  int64
	metrics *metrics.Metrics
	logger  zerolog.Logger

	commandHandler CommandHandler

	mu      sync.Mutex
	running bool
	updates tgbotapi.UpdatesChannel
}

// CommandHandler handles bot commands
type CommandHandler interface {
	HandleCommand(update tgbotapi.Update) error
}

// New authenticates against the Bot API. An empty APIEndpoint uses api.telegram.org.
func New(cfg *config.TelegramConfig, m *metrics.Metrics, logger zerolog.Logger) (*Bot, error) {
	return NewWithClient(cfg, m, &http.Client{}, logger)
}

// NewWithClient is New with a caller-supplied HTTP client
func NewWithClient(cfg *config.TelegramConfig, m *metrics.Metrics, client tgbotapi.HTTPClient, logger zerolog.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, ErrNotConfigured
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := &Bot{
		api:     api,
		chatID:  cfg.ChatID,
		metrics: m,
		logger:  logger.With().Str("component", "telegram").Logger(),
	}

	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// Send delivers text to the configured chat, split at MaxMessageLength
func (b *Bot) Send(ctx context.Context, text string) error {
	for _, chunk := range Split(text, MaxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.SendMessage(b.chatID, chunk, 0); err != nil {
			return err
		}
	}
	return nil
}

// SendMessage sends one text message, optionally as a reply
func (b *Bot) SendMessage(chatID int64, text string, replyTo int) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.DisableWebPagePreview = true

	_, err := b.api.Send(msg)
	b.metrics.RecordTelegram(err)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	b.logger.Debug().
		Int64("chat_id", chatID).
		Int("length", len(text)).
		Msg("Message sent")

	return nil
}

// ChatID returns the chat notifications go to
func (b *Bot) ChatID() int64 {
	return b.chatID
}

// SetCommandHandler sets the command handler used by Start
func (b *Bot) SetCommandHandler(handler CommandHandler) {
	b.commandHandler = handler
}

// Start polls for updates and routes commands to the command handler
func (b *Bot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bot is already running")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	b.updates = b.api.GetUpdatesChan(u)
	b.running = true

	go b.processUpdates(b.updates)

	b.logger.Info().Msg("Telegram command listener started")
	return nil
}

// Stop stops polling for updates
func (b *Bot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	b.api.StopReceivingUpdates()
	b.logger.Info().Msg("Telegram command listener stopped")
}

func (b *Bot) processUpdates(updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		if err := b.handleUpdate(update); err != nil {
			b.logger.Error().
				Err(err).
				Int("update_id", update.UpdateID).
				Msg("Failed to handle update")
		}
	}
}

// handleUpdate routes commands from the configured chat. Everything else is ignored.
func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != b.chatID {
		return nil
	}
	if msg.IsCommand() && b.commandHandler != nil {
		return b.commandHandler.HandleCommand(update)
	}
	return nil
}

// Split breaks text into chunks of at most limit bytes without cutting a rune,
// preferring newline boundaries.
func Split(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		if nl := lastNewline(text[:cut]); nl > 0 {
			cut = nl + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
