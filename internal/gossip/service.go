package gossip

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/laplace/internal/runtime"
	"github.com/GriffinCanCode/laplace/internal/shared/id"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotSubscribed = errors.New("lapp is not subscribed to gossip")
	ErrTransport     = errors.New("gossip transport failure")
)

// Directions and results reported to the Observer
const (
	Inbound  = "inbound"
	Outbound = "outbound"

	ResultDelivered  = "delivered"
	ResultPublished  = "published"
	ResultSelf       = "self"
	ResultUnresolved = "unresolved"
	ResultFailed     = "failed"
)

// Invoker is the slice of a live instance gossip needs
type Invoker interface {
	Invoke(ctx context.Context, export string, args []byte) ([]byte, error)
}

// Resolver finds the live instance of a lapp
type Resolver interface {
	ResolveInvoker(lapp string) (Invoker, error)
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(lapp string) (Invoker, error)

func (f ResolverFunc) ResolveInvoker(lapp string) (Invoker, error) {
	return f(lapp)
}

// Observer receives gossip events, typically for metrics
type Observer interface {
	ObserveGossip(direction, result string)
}

type nopObserver struct{}

func (nopObserver) ObserveGossip(string, string) {}

// Config tunes the service
type Config struct {
	// PeerID identifies this node; messages carrying it are not delivered back
	PeerID string
	// Timeout bounds join, leave and publish calls on the transport
	Timeout time.Duration
	// DeliveryTimeout bounds one p2p_handler invoke
	DeliveryTimeout time.Duration
}

type subscription struct {
	sub    Subscription
	cancel context.CancelFunc
}

// Service keeps one transport subscription per lapp that joined and feeds
// inbound messages to that lapp's p2p_handler.
type Service struct {
	transport Transport
	cfg       Config
	logger    *zap.Logger
	observer  Observer

	resolverMu sync.RWMutex
	resolver   Resolver

	mu   sync.Mutex
	subs map[string]*subscription
	wg   sync.WaitGroup
}

// NewService creates a gossip service on transport
func NewService(transport Transport, cfg Config, logger *zap.Logger, observer Observer) *Service {
	if cfg.PeerID == "" {
		cfg.PeerID = uuid.NewString()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Service{
		transport: transport,
		cfg:       cfg,
		logger:    logger.Named("gossip").With(zap.String("peer", cfg.PeerID)),
		observer:  observer,
		subs:      make(map[string]*subscription),
	}
}

// SetResolver installs the lookup used for inbound delivery
func (s *Service) SetResolver(r Resolver) {
	s.resolverMu.Lock()
	s.resolver = r
	s.resolverMu.Unlock()
}

// PeerID returns this node's id
func (s *Service) PeerID() string {
	return s.cfg.PeerID
}

// Join subscribes lapp to its topic. Joining twice is a no-op.
func (s *Service) Join(ctx context.Context, lapp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[lapp]; ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	sub, err := s.transport.Subscribe(ctx, lapp)
	if err != nil {
		return fmt.Errorf("%w: join %s: %v", ErrTransport, lapp, err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	s.subs[lapp] = &subscription{sub: sub, cancel: stop}

	s.wg.Add(1)
	go s.run(runCtx, lapp, sub)

	s.logger.Info("Joined gossip topic", zap.String("lapp", lapp))
	return nil
}

// Leave ends lapp's subscription. It does not wait for a delivery already
// in progress, so it is safe to call while holding locks that delivery's
// resolve path also takes.
func (s *Service) Leave(ctx context.Context, lapp string) error {
	s.mu.Lock()
	entry, ok := s.subs[lapp]
	delete(s.subs, lapp)
	s.mu.Unlock()

	if !ok {
		return ErrNotSubscribed
	}

	entry.cancel()
	if err := entry.sub.Close(); err != nil {
		return fmt.Errorf("%w: leave %s: %v", ErrTransport, lapp, err)
	}

	s.logger.Info("Left gossip topic", zap.String("lapp", lapp))
	return nil
}

// Subscribed reports whether lapp has a live subscription
func (s *Service) Subscribed(lapp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[lapp]
	return ok
}

// Topics lists subscribed lapps, sorted
func (s *Service) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := make([]string, 0, len(s.subs))
	for lapp := range s.subs {
		topics = append(topics, lapp)
	}
	sort.Strings(topics)
	return topics
}

// Publish sends data on lapp's topic. The lapp must have joined.
func (s *Service) Publish(ctx context.Context, lapp string, data []byte) error {
	if !s.Subscribed(lapp) {
		s.observer.ObserveGossip(Outbound, ResultFailed)
		return ErrNotSubscribed
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	msg := Message{
		ID:     id.NewMessageID(),
		Topic:  lapp,
		Peer:   s.cfg.PeerID,
		Data:   data,
		SentAt: time.Now().UTC(),
	}
	if err := s.transport.Publish(ctx, lapp, msg); err != nil {
		s.observer.ObserveGossip(Outbound, ResultFailed)
		return fmt.Errorf("%w: publish %s: %v", ErrTransport, lapp, err)
	}

	s.observer.ObserveGossip(Outbound, ResultPublished)
	return nil
}

// Close leaves every topic, waits for delivery loops and closes the
// transport
func (s *Service) Close() error {
	for _, lapp := range s.Topics() {
		if err := s.Leave(context.Background(), lapp); err != nil && !errors.Is(err, ErrNotSubscribed) {
			s.logger.Warn("Failed to leave gossip topic", zap.String("lapp", lapp), zap.Error(err))
		}
	}
	s.wg.Wait()
	return s.transport.Close()
}

func (s *Service) run(ctx context.Context, lapp string, sub Subscription) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			s.deliver(lapp, msg)
		}
	}
}

// deliver is best-effort: every failure is logged and the message dropped
func (s *Service) deliver(lapp string, msg Message) {
	if msg.Peer == s.cfg.PeerID {
		s.observer.ObserveGossip(Inbound, ResultSelf)
		return
	}

	s.resolverMu.RLock()
	resolver := s.resolver
	s.resolverMu.RUnlock()
	if resolver == nil {
		s.observer.ObserveGossip(Inbound, ResultUnresolved)
		return
	}

	inv, err := resolver.ResolveInvoker(lapp)
	if err != nil {
		s.observer.ObserveGossip(Inbound, ResultUnresolved)
		s.logger.Debug("Dropping gossip message for unavailable lapp",
			zap.String("lapp", lapp), zap.String("id", msg.ID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeliveryTimeout)
	defer cancel()

	if _, err := inv.Invoke(ctx, runtime.P2PHandler, msg.Data); err != nil {
		s.observer.ObserveGossip(Inbound, ResultFailed)
		s.logger.Warn("Gossip delivery failed",
			zap.String("lapp", lapp), zap.String("id", msg.ID), zap.Error(err))
		return
	}
	s.observer.ObserveGossip(Inbound, ResultDelivered)
}
