package subscription_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamsub/core/broadcast"
	"github.com/streamsub/core/event"
	"github.com/streamsub/core/historical"
	"github.com/streamsub/core/logger"
	"github.com/streamsub/core/subscription"
	"github.com/streamsub/core/subscription/checkpoint"
)

func recordedEvent(streamKey string, streamVersion, eventNumber int64) event.Recorded {
	return event.Recorded{
		EventID:       uuid.New(),
		EventNumber:   eventNumber,
		StreamKey:     streamKey,
		StreamVersion: streamVersion,
		EventType:     "test.event",
	}
}

// collector is a Subscriber that records every batch it receives and acks
// immediately, one goroutine-safe slice at a time. Its handle is set only
// after SubscribeToStream returns, but delivery can start on the actor's
// catch-up worker before that assignment is visible to the test goroutine,
// so it's stored behind an atomic pointer rather than a plain field.
type collector struct {
	mx      sync.Mutex
	batches [][]any
	manager *subscription.Manager
	handle  atomic.Pointer[subscription.Handle]
}

func (c *collector) setHandle(h *subscription.Handle) { c.handle.Store(h) }

func (c *collector) Events(ctx context.Context, batch []any) error {
	c.mx.Lock()
	c.batches = append(c.batches, batch)
	c.mx.Unlock()

	last := batch[len(batch)-1].(event.Recorded)

	var h *subscription.Handle
	for h == nil {
		h = c.handle.Load()
		if h == nil {
			time.Sleep(time.Millisecond)
		}
	}

	return c.manager.Ack(h, subscription.CursorFromEvent(last))
}

func (c *collector) total() int {
	c.mx.Lock()
	defer c.mx.Unlock()

	n := 0
	for _, b := range c.batches {
		n += len(b)
	}

	return n
}

func newTestManager(t *testing.T) (*subscription.Manager, *historical.InMemory, *broadcast.Bus, *checkpoint.InMemory) {
	checkpoints := checkpoint.NewInMemory()
	reader := historical.NewInMemory()
	bus := broadcast.New()

	m := subscription.NewManager(checkpoints, reader, bus, logger.NewTest(t), nil)

	return m, reader, bus, checkpoints
}

func TestSubscribeToStream_CatchesUpThenGoesLive(t *testing.T) {
	m, reader, bus, _ := newTestManager(t)

	reader.Append(
		recordedEvent("orders-1", 1, 1),
		recordedEvent("orders-1", 2, 2),
		recordedEvent("orders-1", 3, 3),
	)

	c := &collector{manager: m}

	handle, err := m.SubscribeToStream(context.Background(), "orders-1", "billing", c, subscription.Options{})
	require.NoError(t, err)

	c.setHandle(handle)

	require.Eventually(t, func() bool { return c.total() == 3 }, time.Second, time.Millisecond)

	broadcast.Publish(bus, "orders-1", []event.Recorded{recordedEvent("orders-1", 4, 4)})

	require.Eventually(t, func() bool { return c.total() == 4 }, time.Second, time.Millisecond)
}

func TestSubscribeToStream_AlreadyExists(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	c1 := &collector{manager: m}
	handle, err := m.SubscribeToStream(context.Background(), "orders-1", "billing", c1, subscription.Options{})
	require.NoError(t, err)
	c1.setHandle(handle)

	c2 := &collector{manager: m}
	_, err = m.SubscribeToStream(context.Background(), "orders-1", "billing", c2, subscription.Options{})
	assert.ErrorIs(t, err, subscription.ErrSubscriptionAlreadyExists)
}

func TestUnsubscribeFromStream_StopsDeliveryAndDeletesCheckpoint(t *testing.T) {
	m, _, bus, checkpoints := newTestManager(t)

	c := &collector{manager: m}
	handle, err := m.SubscribeToStream(context.Background(), "orders-1", "billing", c, subscription.Options{})
	require.NoError(t, err)
	c.setHandle(handle)

	require.NoError(t, m.UnsubscribeFromStream(context.Background(), "orders-1", "billing"))

	_, err = checkpoints.Query(context.Background(), "orders-1", "billing")
	assert.ErrorIs(t, err, checkpoint.ErrSubscriptionNotFound)

	assert.False(t, m.Subscribed(handle))

	// A notification arriving after teardown must not panic or deliver.
	broadcast.Publish(bus, "orders-1", []event.Recorded{recordedEvent("orders-1", 1, 1)})
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, c.total())
}

func TestSubscribeToAllStreams_MergesEveryStream(t *testing.T) {
	m, reader, _, _ := newTestManager(t)

	reader.Append(
		recordedEvent("orders-1", 1, 1),
		recordedEvent("orders-2", 1, 2),
		recordedEvent("orders-1", 2, 3),
	)

	c := &collector{manager: m}
	handle, err := m.SubscribeToAllStreams(context.Background(), "reporting", c, subscription.Options{})
	require.NoError(t, err)
	c.setHandle(handle)

	require.Eventually(t, func() bool { return c.total() == 3 }, time.Second, time.Millisecond)
}

func TestSubscribe_ResumesFromExistingCheckpoint(t *testing.T) {
	m, reader, _, checkpoints := newTestManager(t)

	_, err := checkpoints.Subscribe(context.Background(), "orders-1", "billing", 2, 2)
	require.NoError(t, err)

	reader.Append(
		recordedEvent("orders-1", 1, 1),
		recordedEvent("orders-1", 2, 2),
		recordedEvent("orders-1", 3, 3),
	)

	c := &collector{manager: m}
	handle, err := m.SubscribeToStream(context.Background(), "orders-1", "billing", c, subscription.Options{})
	require.NoError(t, err)
	c.setHandle(handle)

	require.Eventually(t, func() bool { return c.total() == 1 }, time.Second, time.Millisecond)
}

// orderedCollector records every event it receives, in delivery order, and
// only acks a batch automatically once autoAck is set: this lets a test
// withhold an ack long enough to force events into Pending, and later
// assert that delivery to the Subscriber stayed strictly monotonic once
// everything drains.
type orderedCollector struct {
	mx       sync.Mutex
	observed []int64
	manager  *subscription.Manager
	handle   atomic.Pointer[subscription.Handle]
	autoAck  atomic.Bool
}

func (c *orderedCollector) setHandle(h *subscription.Handle) { c.handle.Store(h) }

func (c *orderedCollector) Events(ctx context.Context, batch []any) error {
	last := batch[len(batch)-1].(event.Recorded)

	c.mx.Lock()
	for _, item := range batch {
		c.observed = append(c.observed, item.(event.Recorded).StreamVersion)
	}
	c.mx.Unlock()

	if !c.autoAck.Load() {
		return nil
	}

	var h *subscription.Handle
	for h == nil {
		h = c.handle.Load()
		if h == nil {
			time.Sleep(time.Millisecond)
		}
	}

	return c.manager.Ack(h, subscription.CursorFromEvent(last))
}

func (c *orderedCollector) total() int {
	c.mx.Lock()
	defer c.mx.Unlock()

	return len(c.observed)
}

func (c *orderedCollector) snapshot() []int64 {
	c.mx.Lock()
	defer c.mx.Unlock()

	return append([]int64(nil), c.observed...)
}

// TestGapDetectedWithPendingBacklog_DeliveryStaysMonotonic reproduces the
// scenario where NotifyEvents detects a gap while a prior batch is still
// parked in Pending: a catch-up worker is spawned for events past the gap
// while lower-cursor Pending content is still undelivered. It asserts that
// every batch this drives into the Subscriber - whether sourced from
// drainPending or from the catch-up worker - arrives in strictly
// increasing cursor order, with no batch skipped or delivered twice.
func TestGapDetectedWithPendingBacklog_DeliveryStaysMonotonic(t *testing.T) {
	m, reader, bus, _ := newTestManager(t)

	c := &orderedCollector{manager: m}

	handle, err := m.SubscribeToStream(context.Background(), "orders-1", "billing", c, subscription.Options{})
	require.NoError(t, err)
	c.setHandle(handle)

	require.Eventually(t, func() bool { return m.Subscribed(handle) }, time.Second, time.Millisecond)

	// Delivered immediately: contiguous with last_ack. Withheld deliberately
	// so last_ack stays behind, forcing the next batch to park in Pending.
	broadcast.Publish(bus, "orders-1", []event.Recorded{recordedEvent("orders-1", 1, 1)})
	require.Eventually(t, func() bool { return c.total() >= 1 }, time.Second, time.Millisecond)

	// Contiguous with last_seen but not with the still-unacked last_ack:
	// parks in Pending instead of delivering.
	broadcast.Publish(bus, "orders-1", []event.Recorded{recordedEvent("orders-1", 2, 2)})

	// Durably present so the catch-up worker the gap triggers below can
	// replay it, mirroring a real write landing in storage before its
	// broadcast hint is (or isn't) seen.
	var backlog []event.Recorded
	for v := int64(3); v <= 9; v++ {
		backlog = append(backlog, recordedEvent("orders-1", v, v))
	}
	reader.Append(backlog...)

	// A gap relative to last_seen: last_seen is still 2, so this jumps
	// straight to RequestCatchUp without ever touching the parked Pending.
	broadcast.Publish(bus, "orders-1", []event.Recorded{recordedEvent("orders-1", 9, 9)})

	c.autoAck.Store(true)
	require.NoError(t, m.Ack(handle, subscription.CursorFromStreamVersion(1)))

	require.Eventually(t, func() bool { return c.total() == 9 }, time.Second, time.Millisecond)

	observed := c.snapshot()

	prev := int64(0)
	for _, cursor := range observed {
		assert.Greater(t, cursor, prev, "delivery to the subscriber must be strictly monotonic")
		prev = cursor
	}
	assert.Equal(t, int64(9), prev)
}

func TestAck_PastLastSeen_CrashesActor(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	c := &collector{manager: m}
	handle, err := m.SubscribeToAllStreams(context.Background(), "reporting", c, subscription.Options{})
	require.NoError(t, err)
	c.setHandle(handle)

	require.Eventually(t, func() bool { return m.Subscribed(handle) }, time.Second, time.Millisecond)

	require.NoError(t, m.Ack(handle, subscription.CursorFromEventNumber(5)))

	require.Eventually(t, func() bool { return !m.Subscribed(handle) }, time.Second, time.Millisecond)

	err = m.Ack(handle, subscription.CursorFromEventNumber(1))
	assert.ErrorIs(t, err, subscription.ErrActorCrashed)
}
