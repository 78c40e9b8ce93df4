package gossip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/laplace/internal/infrastructure/resilience"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelPrefix namespaces gossip channels on a shared redis
const ChannelPrefix = "laplace:gossip:"

// RedisTransport carries gossip over redis pub/sub, one channel per topic
type RedisTransport struct {
	client  *redis.Client
	breaker *resilience.Breaker
	logger  *zap.Logger

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

// NewRedisTransport connects to url (redis://host:port/db) and verifies the
// connection
func NewRedisTransport(ctx context.Context, url string, logger *zap.Logger) (*RedisTransport, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return newRedisTransport(client, logger), nil
}

func newRedisTransport(client *redis.Client, logger *zap.Logger) *RedisTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("redis")

	return &RedisTransport{
		client: client,
		breaker: resilience.New("gossip-redis", resilience.Settings{
			FailureThreshold: 5,
			Cooldown:         10 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("Gossip breaker state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
		logger: logger,
		subs:   make(map[*redisSubscription]struct{}),
	}
}

// Subscribe joins the topic channel and waits for redis to confirm
func (t *RedisTransport) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.mu.Unlock()

	ps := t.client.Subscribe(ctx, channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	sub := &redisSubscription{
		transport: t,
		pubsub:    ps,
		ch:        make(chan Message, subscriptionBuffer),
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	go sub.pump(topic)
	return sub, nil
}

// Publish sends msg on the topic channel
func (t *RedisTransport) Publish(ctx context.Context, topic string, msg Message) error {
	msg.Topic = topic
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	return t.breaker.Do(ctx, func(ctx context.Context) error {
		return t.client.Publish(ctx, channel(topic), payload).Err()
	})
}

// Close ends every subscription and the client
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := make([]*redisSubscription, 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return t.client.Close()
}

type redisSubscription struct {
	transport *RedisTransport
	pubsub    *redis.PubSub
	ch        chan Message
	done      chan struct{}
	once      sync.Once
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.ch
}

// pump decodes redis messages until the pubsub closes
func (s *redisSubscription) pump(topic string) {
	defer close(s.done)
	defer close(s.ch)

	for raw := range s.pubsub.Channel() {
		msg, err := decodeMessage([]byte(raw.Payload))
		if err != nil {
			s.transport.logger.Warn("Dropping undecodable gossip message",
				zap.String("topic", topic), zap.Error(err))
			continue
		}
		select {
		case s.ch <- msg:
		default:
			s.transport.logger.Warn("Gossip subscriber full, dropping message",
				zap.String("topic", topic), zap.String("id", msg.ID))
		}
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		<-s.done

		s.transport.mu.Lock()
		delete(s.transport.subs, s)
		s.transport.mu.Unlock()
	})
	return err
}

func channel(topic string) string {
	return ChannelPrefix + topic
}

func encodeMessage(msg Message) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode gossip message: %w", err)
	}
	return data, nil
}

func decodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode gossip message: %w", err)
	}
	if msg.Topic == "" {
		return Message{}, fmt.Errorf("decode gossip message: missing topic")
	}
	return msg, nil
}
