package gossip

import (
	"context"
	"errors"
	"time"
)

var ErrTransportClosed = errors.New("gossip transport closed")

// Message is one gossip payload on a lapp topic
type Message struct {
	ID     string    `json:"id"`
	Topic  string    `json:"topic"`
	Peer   string    `json:"peer"`
	Data   []byte    `json:"data"`
	SentAt time.Time `json:"sent_at"`
}

// Subscription is a live topic subscription
type Subscription interface {
	// Messages is closed when the subscription ends
	Messages() <-chan Message
	Close() error
}

// Transport is the pub/sub capability gossip runs on. Its wire protocol is
// its own business; callers only see success or failure.
type Transport interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Publish(ctx context.Context, topic string, msg Message) error
	Close() error
}

// subscriptionBuffer is how many messages may wait for delivery before the
// transport starts dropping them
const subscriptionBuffer = 64
