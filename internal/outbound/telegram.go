package outbound

import (
	"context"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// telegramPoster is the slice of the Telegram Bot API the sender uses.
type telegramPoster interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramSender delivers messages through the Telegram Bot API. TopicID
// is a forum topic (message thread) id.
type TelegramSender struct {
	client telegramPoster
}

// NewTelegramSender builds a sender authenticated with a bot token.
func NewTelegramSender(token string) (*TelegramSender, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, err
	}
	return &TelegramSender{client: b}, nil
}

// NewTelegramSenderWithClient builds a sender around an existing client.
func NewTelegramSenderWithClient(client telegramPoster) *TelegramSender {
	return &TelegramSender{client: client}
}

func (s *TelegramSender) Channel() string { return "telegram" }

func (s *TelegramSender) Send(ctx context.Context, to, topicID, text string, opts SendOptions) (*Ack, error) {
	params := &bot.SendMessageParams{
		ChatID: to,
		Text:   text,
	}
	if topicID != "" {
		if threadID, err := strconv.Atoi(topicID); err == nil {
			params.MessageThreadID = threadID
		}
	}
	if opts.Silent {
		params.DisableNotification = true
	}
	if opts.Markdown {
		params.ParseMode = tgmodels.ParseModeMarkdown
	}

	msg, err := s.client.SendMessage(ctx, params)
	if err != nil {
		return nil, err
	}
	return &Ack{Channel: s.Channel(), MessageID: strconv.Itoa(msg.ID), SentAt: time.Now()}, nil
}
