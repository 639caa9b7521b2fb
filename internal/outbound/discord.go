package outbound

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordPoster is the slice of the Discord API the sender uses.
type discordPoster interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSender delivers messages through the Discord REST API. TopicID is
// a thread channel id; when set it is the destination instead of `to`.
type DiscordSender struct {
	session discordPoster
}

// NewDiscordSender builds a sender authenticated with a bot token. Sends
// use plain REST calls; no gateway connection is opened.
func NewDiscordSender(token string) (*DiscordSender, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &DiscordSender{session: session}, nil
}

// NewDiscordSenderWithClient builds a sender around an existing session.
func NewDiscordSenderWithClient(session discordPoster) *DiscordSender {
	return &DiscordSender{session: session}
}

func (s *DiscordSender) Channel() string { return "discord" }

func (s *DiscordSender) Send(ctx context.Context, to, topicID, text string, opts SendOptions) (*Ack, error) {
	target := to
	if topicID != "" {
		target = topicID
	}

	msg, err := s.session.ChannelMessageSend(target, text, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return &Ack{Channel: s.Channel(), MessageID: msg.ID, SentAt: time.Now()}, nil
}
