package outbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SendOptions carries per-send tuning common across channels.
type SendOptions struct {
	// Silent suppresses the channel's notification sound where supported.
	Silent bool

	// Markdown asks the channel to render the text as markdown where
	// supported.
	Markdown bool
}

// Ack identifies a delivered message.
type Ack struct {
	Channel   string
	MessageID string
	SentAt    time.Time
}

// Sender delivers one outbound text message to a destination on a single
// channel. TopicID addresses a sub-destination (Slack thread, Telegram
// forum topic, Discord thread) and may be empty.
type Sender interface {
	Channel() string
	Send(ctx context.Context, to, topicID, text string, opts SendOptions) (*Ack, error)
}

// Mux routes sends to the registered Sender for a channel name. Task
// progress reports and board meeting summaries go through here so they
// stay agnostic of which chat platform is configured.
type Mux struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

// NewMux creates an empty sender mux.
func NewMux() *Mux {
	return &Mux{senders: make(map[string]Sender)}
}

// Register adds or replaces the sender for its channel.
func (m *Mux) Register(s Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senders[strings.ToLower(s.Channel())] = s
}

// Send routes to the sender registered for channel.
func (m *Mux) Send(ctx context.Context, channel, to, topicID, text string, opts SendOptions) (*Ack, error) {
	m.mu.RLock()
	s, ok := m.senders[strings.ToLower(channel)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no sender registered for channel %q", channel)
	}
	return s.Send(ctx, to, topicID, text, opts)
}

// Channels lists the registered channel names.
func (m *Mux) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.senders))
	for name := range m.senders {
		out = append(out, name)
	}
	return out
}
