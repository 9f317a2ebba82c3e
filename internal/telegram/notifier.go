package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/84hero/burn-notifier/pkg/notify"
)

// Config holds configuration for the Telegram bot.
type Config struct {
	Token       string        `mapstructure:"token"`
	ChatID      int64         `mapstructure:"chat_id"`
	APIEndpoint string        `mapstructure:"api_endpoint"` // Defaults to the public Bot API
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DeliveryError reports a message the chat channel did not accept.
type DeliveryError struct {
	ChatID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("telegram delivery to chat %d failed: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Sender is the subset of *tgbotapi.BotAPI used for delivery.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts alerts to one chat.
type Notifier struct {
	bot    Sender
	chatID int64
}

// New connects to the Bot API and verifies the token.
func New(cfg Config) (*Notifier, error) {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	return NewWithSender(bot, cfg.ChatID), nil
}

// NewWithSender wraps an existing sender (Testing/DI)
func NewWithSender(bot Sender, chatID int64) *Notifier {
	return &Notifier{bot: bot, chatID: chatID}
}

// SendPhoto posts the payload image with its Markdown caption.
// Without a media reference the caption is sent as a text message.
func (n *Notifier) SendPhoto(ctx context.Context, p notify.Payload) error {
	if p.MediaRef == "" {
		msg := tgbotapi.NewMessage(n.chatID, p.Caption)
		msg.ParseMode = tgbotapi.ModeMarkdown
		return n.send(ctx, msg)
	}

	photo := tgbotapi.NewPhoto(n.chatID, mediaFile(p.MediaRef))
	photo.Caption = p.Caption
	photo.ParseMode = tgbotapi.ModeMarkdown
	return n.send(ctx, photo)
}

// SendText posts a plain message.
func (n *Notifier) SendText(ctx context.Context, text string) error {
	return n.send(ctx, tgbotapi.NewMessage(n.chatID, text))
}

func (n *Notifier) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{ChatID: n.chatID, Err: err}
	}
	if _, err := n.bot.Send(c); err != nil {
		return &DeliveryError{ChatID: n.chatID, Err: err}
	}
	return nil
}

func mediaFile(ref string) tgbotapi.RequestFileData {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tgbotapi.FileURL(ref)
	}
	return tgbotapi.FilePath(ref)
}
