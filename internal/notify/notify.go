package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"stockreq/internal/config"
)

// Notifier delivers workflow notifications. Implementations are best-effort:
// callers fire them after the primary operation commits and never fail on a
// delivery error.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Telegram sends messages through the Telegram bot API.
type Telegram struct {
	client *resty.Client
	token  string
	chatID string
}

// NewTelegram builds a Telegram notifier. Returns a nil Notifier when no bot
// token is configured, which Fire treats as notifications disabled. The
// interface return matters: a typed-nil *Telegram stored in a Notifier would
// slip past Fire's nil check.
func NewTelegram(cfg config.TelegramConfig) Notifier {
	if cfg.BotToken == "" {
		return nil
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)
	return &Telegram{client: client, token: cfg.BotToken, chatID: cfg.ChatID}
}

type sendResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts one message to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	var out sendResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": t.chatID, "text": text}).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return err
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram: %s", out.Description)
	}
	return nil
}

// Fire delivers text in the background, logging and swallowing any failure.
// Delivery is at-most-once and fully decoupled from the caller's outcome.
func Fire(n Notifier, text string) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := n.Send(ctx, text); err != nil {
			log.Printf("notify: %v", err)
		}
	}()
}
