package gossip

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryTransport is an in-process bus. Every subscriber of a topic,
// across all services sharing the transport, sees every message.
// A Service drops its own messages, so a lapp's publishes only reach
// another Service on the same transport. A single server running on the
// memory transport never delivers gossip_publish to any p2p_handler.
type MemoryTransport struct {
	mu      sync.RWMutex
	topics  map[string]map[*memorySubscription]struct{}
	closed  bool
	dropped atomic.Int64
}

// NewMemoryTransport creates an empty bus
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{topics: make(map[string]map[*memorySubscription]struct{})}
}

// Subscribe registers a new subscriber on topic
func (t *MemoryTransport) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}

	sub := &memorySubscription{
		transport: t,
		topic:     topic,
		ch:        make(chan Message, subscriptionBuffer),
	}
	if t.topics[topic] == nil {
		t.topics[topic] = make(map[*memorySubscription]struct{})
	}
	t.topics[topic][sub] = struct{}{}
	return sub, nil
}

// Publish hands msg to every subscriber of topic without blocking. A full
// subscriber loses the message.
func (t *MemoryTransport) Publish(ctx context.Context, topic string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTransportClosed
	}

	msg.Topic = topic
	for sub := range t.topics[topic] {
		select {
		case sub.ch <- msg:
		default:
			t.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions on topic
func (t *MemoryTransport) Subscribers(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.topics[topic])
}

// Dropped returns how many messages were lost to full subscribers
func (t *MemoryTransport) Dropped() int64 {
	return t.dropped.Load()
}

// Close ends every subscription
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for topic, subs := range t.topics {
		for sub := range subs {
			sub.closeLocked()
		}
		delete(t.topics, topic)
	}
	return nil
}

type memorySubscription struct {
	transport *MemoryTransport
	topic     string
	ch        chan Message
	once      sync.Once
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	s.closeLocked()
	return nil
}

// closeLocked must be called with the transport lock held
func (s *memorySubscription) closeLocked() {
	s.once.Do(func() {
		if subs, ok := s.transport.topics[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.transport.topics, s.topic)
			}
		}
		close(s.ch)
	})
}
