package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordingHandler collects delivered events and can hold delivery on a gate.
type recordingHandler struct {
	mu       sync.Mutex
	received []Event
	started  chan struct{}
	gate     chan struct{}
	err      error
}

func newRecordingHandler(gated bool) *recordingHandler {
	h := &recordingHandler{started: make(chan struct{}, 64)}
	if gated {
		h.gate = make(chan struct{})
	}
	return h
}

func (h *recordingHandler) Handle(_ context.Context, ev Event) error {
	h.started <- struct{}{}
	if h.gate != nil {
		<-h.gate
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, ev)
	return h.err
}

func (h *recordingHandler) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.received))
	for _, ev := range h.received {
		out = append(out, ev.(AssetAddedEvent).ID)
	}
	return out
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func TestBus_PreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), Options{QueueSize: 128, Policy: Block})
	h := newRecordingHandler(false)
	_, err := bus.Subscribe(SubscribeOptions{Name: "ordered"}, h)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("asset-%02d", i)
		want = append(want, id)
		require.NoError(t, bus.Publish(context.Background(), NewAssetAdded(id)))
	}

	require.Eventually(t, func() bool { return h.count() == 50 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, h.ids())
}

func TestBus_DropOldestEvictsHead(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), Options{})
	h := newRecordingHandler(true)
	sub, err := bus.Subscribe(SubscribeOptions{Name: "slow", QueueSize: 2, Policy: DropOldest}, h)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewAssetAdded("e0")))
	<-h.started // e0 is in the handler, queue is empty

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, bus.Publish(context.Background(), NewAssetAdded(id)))
	}
	assert.Equal(t, uint64(1), sub.Stats().Dropped)
	assert.Equal(t, 2, sub.Stats().Queued)

	close(h.gate)
	require.Eventually(t, func() bool { return h.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e0", "e2", "e3"}, h.ids())
}

func TestBus_BlockPolicyWaitsForPublisherContext(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), Options{})
	h := newRecordingHandler(true)
	sub, err := bus.Subscribe(SubscribeOptions{Name: "blocking", QueueSize: 1, Policy: Block}, h)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewAssetAdded("e0")))
	<-h.started
	require.NoError(t, bus.Publish(context.Background(), NewAssetAdded("e1")))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = bus.Publish(ctx, NewAssetAdded("e2"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Zero(t, sub.Stats().Dropped)

	close(h.gate)
	require.Eventually(t, func() bool { return h.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e0", "e1"}, h.ids())
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), Options{})
	var got []EventType
	var mu sync.Mutex
	_, err := bus.SubscribeFunc(SubscribeOptions{Name: "crossings", Types: []EventType{ThresholdCrossed}},
		func(_ context.Context, ev Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, ev.Type())
			return nil
		})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewAssetAdded("a")))
	require.NoError(t, bus.Publish(context.Background(), NewAssetRemoved("a")))
	require.NoError(t, bus.Shutdown(context.Background()))

	assert.Empty(t, got)
}

func TestBus_HandlerErrorsAreCounted(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), Options{})
	h := newRecordingHandler(false)
	h.err = errors.New("boom")
	sub, err := bus.Subscribe(SubscribeOptions{Name: "failing"}, h)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewAssetAdded("a")))
	require.Eventually(t, func() bool { return sub.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, sub.Stats().Delivered)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), Options{})
	h := newRecordingHandler(false)
	sub, err := bus.Subscribe(SubscribeOptions{Name: "temp"}, h)
	require.NoError(t, err)

	sub.Unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), NewAssetAdded("a")))
	assert.Empty(t, bus.Stats())
	assert.Zero(t, h.count())
}

func TestBus_ShutdownDrainsAndRejects(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), Options{QueueSize: 16})
	h := newRecordingHandler(false)
	_, err := bus.Subscribe(SubscribeOptions{Name: "drain"}, h)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(context.Background(), NewAssetAdded(fmt.Sprint(i))))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Shutdown(ctx))

	assert.Equal(t, 10, h.count())
	assert.ErrorIs(t, bus.Publish(context.Background(), NewAssetAdded("late")), ErrBusClosed)
	_, err = bus.Subscribe(SubscribeOptions{}, h)
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestBus_RejectsUnknownPolicy(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), Options{})
	_, err := bus.Subscribe(SubscribeOptions{Policy: "spill"}, newRecordingHandler(false))
	assert.Error(t, err)
}
