package outbound

import (
	"context"
	"time"

	"github.com/slack-go/slack"
)

// slackPoster is the slice of the Slack API the sender uses. The concrete
// *slack.Client satisfies it; tests substitute a recorder.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackSender delivers messages through the Slack Web API. TopicID is a
// thread timestamp; sends with one land in that thread.
type SlackSender struct {
	client slackPoster
}

// NewSlackSender builds a sender authenticated with a bot token.
func NewSlackSender(token string) *SlackSender {
	return &SlackSender{client: slack.New(token)}
}

// NewSlackSenderWithClient builds a sender around an existing client.
func NewSlackSenderWithClient(client slackPoster) *SlackSender {
	return &SlackSender{client: client}
}

func (s *SlackSender) Channel() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, to, topicID, text string, opts SendOptions) (*Ack, error) {
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if topicID != "" {
		options = append(options, slack.MsgOptionTS(topicID))
	}

	_, timestamp, err := s.client.PostMessageContext(ctx, to, options...)
	if err != nil {
		return nil, err
	}
	return &Ack{Channel: s.Channel(), MessageID: timestamp, SentAt: time.Now()}, nil
}
