// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusClosed is returned by Publish after Shutdown.
var ErrBusClosed = errors.New("event bus is shutting down")

const (
	DefaultQueueSize = 256
	DefaultPolicy    = DropOldest
)

// DropRecorder is notified every time a queued event is evicted.
type DropRecorder interface {
	EventDropped(subscriber string)
}

// Options configures the bus defaults applied to subscribers that leave them unset.
type Options struct {
	QueueSize int
	Policy    OverflowPolicy
	Drops     DropRecorder
}

// Bus is an in-memory event dispatcher. Every subscriber owns a bounded queue drained
// by one goroutine, so events reach a subscriber in the order they were published.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]*subscriber
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   atomic.Bool
	defaults Options
}

type subscriber struct {
	id      string
	opts    SubscribeOptions
	types   map[EventType]struct{}
	handler Handler
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	pubMu   sync.Mutex
	bus     *Bus

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger, opts Options) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if !opts.Policy.Valid() {
		opts.Policy = DefaultPolicy
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:     make(map[string]*subscriber),
		logger:   logger.Named("event_bus"),
		ctx:      ctx,
		cancel:   cancel,
		defaults: opts,
	}
}

// Subscribe registers a handler with its own queue and delivery goroutine.
func (b *Bus) Subscribe(opts SubscribeOptions, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = b.defaults.QueueSize
	}
	if opts.Policy == "" {
		opts.Policy = b.defaults.Policy
	}
	if !opts.Policy.Valid() {
		return nil, fmt.Errorf("unknown overflow policy %q", opts.Policy)
	}

	s := &subscriber{
		id:      uuid.New().String(),
		opts:    opts,
		types:   make(map[EventType]struct{}, len(opts.Types)),
		handler: handler,
		queue:   make(chan Event, opts.QueueSize),
		done:    make(chan struct{}),
		bus:     b,
	}
	if s.opts.Name == "" {
		s.opts.Name = s.id
	}
	for _, t := range opts.Types {
		s.types[t] = struct{}{}
	}

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()

	b.wg.Add(1)
	go s.run()

	b.logger.Debug("Handler subscribed",
		zap.String("subscriber", s.opts.Name),
		zap.String("subscription_id", s.id),
		zap.String("policy", string(opts.Policy)),
		zap.Int("queue_size", opts.QueueSize))

	return s, nil
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(opts SubscribeOptions, fn func(context.Context, Event) error) (Subscription, error) {
	return b.Subscribe(opts, HandlerFunc(fn))
}

// Publish enqueues the event for every matching subscriber. With the Block policy the call
// waits for room or for ctx; with DropOldest it never waits.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.accepts(event.Type()) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	var errs []error
	for _, s := range targets {
		if err := s.enqueue(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.opts.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns queue statistics for every subscriber.
func (b *Bus) Stats() []SubscriberStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]SubscriberStats, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.Stats())
	}
	return out
}

// Shutdown stops accepting events and waits for subscribers to drain their queues.
func (b *Bus) Shutdown(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.logger.Info("Shutting down event bus")
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if ok {
		s.once.Do(func() { close(s.done) })
		b.logger.Debug("Handler unsubscribed", zap.String("subscription_id", id))
	}
}

func (s *subscriber) ID() string {
	return s.id
}

func (s *subscriber) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

func (s *subscriber) Stats() SubscriberStats {
	return SubscriberStats{
		Name:      s.opts.Name,
		Policy:    s.opts.Policy,
		Queued:    len(s.queue),
		Capacity:  cap(s.queue),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *subscriber) accepts(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

func (s *subscriber) enqueue(ctx context.Context, event Event) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	if s.opts.Policy == Block {
		select {
		case s.queue <- event:
			return nil
		case <-s.done:
			return nil
		case <-s.bus.ctx.Done():
			return ErrBusClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case s.queue <- event:
			return nil
		default:
		}
		select {
		case old := <-s.queue:
			s.dropped.Add(1)
			if s.bus.defaults.Drops != nil {
				s.bus.defaults.Drops.EventDropped(s.opts.Name)
			}
			s.bus.logger.Warn("Subscriber queue full, dropping oldest event",
				zap.String("subscriber", s.opts.Name),
				zap.String("dropped_type", string(old.Type())),
				zap.String("asset", old.AssetKey()))
		default:
		}
	}
}

func (s *subscriber) run() {
	defer s.bus.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.bus.ctx.Done():
			// Drain what is already queued
			for {
				select {
				case event := <-s.queue:
					s.deliver(context.Background(), event)
				default:
					return
				}
			}
		case event := <-s.queue:
			s.deliver(s.bus.ctx, event)
		}
	}
}

func (s *subscriber) deliver(ctx context.Context, event Event) {
	if err := s.handler.Handle(ctx, event); err != nil {
		s.failed.Add(1)
		s.bus.logger.Error("Handler error",
			zap.String("subscriber", s.opts.Name),
			zap.String("event_type", string(event.Type())),
			zap.String("asset", event.AssetKey()),
			zap.Error(err))
		return
	}
	s.delivered.Add(1)
}
