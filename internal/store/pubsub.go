package store

import (
	"context"
	"sync"
)

// Event channels fanned out to admin dashboards.
const (
	ChannelLeadCreated      = "hvn:events:lead.created"
	ChannelPostPublished    = "hvn:events:post.published"
	ChannelPageView         = "hvn:events:pageview"
	ChannelLandingGenerated = "hvn:events:landing.generated"
	ChannelReferralRedeemed = "hvn:events:referral.redeemed"
)

// EventChannels lists every channel the admin hub listens on.
var EventChannels = []string{
	ChannelLeadCreated,
	ChannelPostPublished,
	ChannelPageView,
	ChannelLandingGenerated,
	ChannelReferralRedeemed,
}

type Message struct {
	Channel string
	Payload string
}

type Subscription interface {
	Channel() <-chan *Message
	Close() error
}

// Broker publishes opaque payloads to named channels.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) Subscription
	Close() error
}

type memorySubscription struct {
	channels map[string]bool
	msgChan  chan *Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newMemorySubscription(channels []string) *memorySubscription {
	channelMap := make(map[string]bool, len(channels))
	for _, ch := range channels {
		channelMap[ch] = true
	}
	return &memorySubscription{
		channels: channelMap,
		msgChan:  make(chan *Message, 100),
		closeCh:  make(chan struct{}),
	}
}

func (m *memorySubscription) Channel() <-chan *Message {
	return m.msgChan
}

func (m *memorySubscription) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.closeCh)
		close(m.msgChan)
	}
	return nil
}

// deliver never blocks; a full buffer drops the message.
func (m *memorySubscription) deliver(msg *Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed || !m.channels[msg.Channel] {
		return
	}
	select {
	case m.msgChan <- msg:
	default:
	}
}

// MemoryBroker is the single-process Broker used when Redis is not configured.
type MemoryBroker struct {
	subscribers map[string][]*memorySubscription
	mu          sync.RWMutex
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subscribers: make(map[string][]*memorySubscription)}
}

func (h *MemoryBroker) Subscribe(ctx context.Context, channels ...string) Subscription {
	sub := newMemorySubscription(channels)

	h.mu.Lock()
	for _, channel := range channels {
		h.subscribers[channel] = append(h.subscribers[channel], sub)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}
		h.remove(sub, channels)
	}()

	return sub
}

func (h *MemoryBroker) remove(sub *memorySubscription, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, channel := range channels {
		subs := h.subscribers[channel]
		for i, s := range subs {
			if s == sub {
				h.subscribers[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(h.subscribers[channel]) == 0 {
			delete(h.subscribers, channel)
		}
	}
}

func (h *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	h.mu.RLock()
	subs := make([]*memorySubscription, len(h.subscribers[channel]))
	copy(subs, h.subscribers[channel])
	h.mu.RUnlock()

	msg := &Message{Channel: channel, Payload: string(payload)}
	for _, sub := range subs {
		sub.deliver(msg)
	}
	return nil
}

func (h *MemoryBroker) Close() error {
	h.mu.RLock()
	var subs []*memorySubscription
	for _, list := range h.subscribers {
		subs = append(subs, list...)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
