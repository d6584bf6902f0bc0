// Package notify forwards operator alerts, such as settlement failures that
// leave a paid order without codes, to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Alerter interface {
	Alert(ctx context.Context, text string)
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Alert(context.Context, string) {}

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *slog.Logger
}

func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return newTelegram(bot, chatID, log), nil
}

func newTelegram(bot *tgbotapi.BotAPI, chatID int64, log *slog.Logger) *Telegram {
	if log == nil {
		log = slog.Default()
	}
	return &Telegram{bot: bot, chatID: chatID, log: log}
}

// Alert sends text to the ops chat. Delivery failures are logged only.
func (t *Telegram) Alert(ctx context.Context, text string) {
	if ctx.Err() != nil {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		t.log.Error("send telegram alert", "chat_id", t.chatID, "err", err)
	}
}
