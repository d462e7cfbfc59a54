package notify

import (
	"context"
	"fmt"

	"gopkg.in/telebot.v3"
)

// TelegramChannel sends batches to one chat through the Bot API.
type TelegramChannel struct {
	bot  *telebot.Bot
	chat telebot.ChatID
}

// NewTelegramChannel creates a send-only bot. apiURL overrides the Bot API
// endpoint (empty = api.telegram.org).
func NewTelegramChannel(token string, chatID int64, apiURL string) (*TelegramChannel, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		URL:     apiURL,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &TelegramChannel{bot: bot, chat: telebot.ChatID(chatID)}, nil
}

func (t *TelegramChannel) Name() string { return ChannelTelegram }

func (t *TelegramChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, TelegramMarkdown(msg), &telebot.SendOptions{
		ParseMode:             telebot.ModeMarkdownV2,
		DisableWebPagePreview: true,
	})
	return err
}

func (t *TelegramChannel) SendPlain(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text)
	return err
}
