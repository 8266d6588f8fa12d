// internal/events/handler.go
package events

import (
	"context"
)

// Handler processes events delivered to one subscriber. Calls are sequential per subscriber.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as event handlers.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// OverflowPolicy decides what happens when a subscriber queue is full.
type OverflowPolicy string

const (
	// DropOldest evicts the oldest queued event to make room. Publishers never wait.
	DropOldest OverflowPolicy = "drop_oldest"
	// Block makes the publisher wait for room or for its context to end.
	Block OverflowPolicy = "block"
)

// Valid reports whether p is a known policy.
func (p OverflowPolicy) Valid() bool {
	return p == DropOldest || p == Block
}

// SubscribeOptions configures a subscriber.
type SubscribeOptions struct {
	Name      string
	Types     []EventType // empty means every type
	QueueSize int
	Policy    OverflowPolicy
}

// Subscription represents a subscription to events.
type Subscription interface {
	ID() string
	Unsubscribe()
	Stats() SubscriberStats
}

// SubscriberStats reports queue health for one subscriber.
type SubscriberStats struct {
	Name      string         `json:"name"`
	Policy    OverflowPolicy `json:"policy"`
	Queued    int            `json:"queued"`
	Capacity  int            `json:"capacity"`
	Delivered uint64         `json:"delivered"`
	Dropped   uint64         `json:"dropped"`
	Failed    uint64         `json:"failed"`
}
