package subscription

import (
	"context"
	"sync"

	"github.com/streamsub/core/broadcast"
	"github.com/streamsub/core/event"
	"github.com/streamsub/core/historical"
	"github.com/streamsub/core/logger"
	"github.com/streamsub/core/subscription/checkpoint"
)

type handleKey struct {
	streamKey        string
	subscriptionName string
}

// Manager is the composition root of the subscription core: it owns the
// registry of live subscription actors, and is the only type user code
// calls directly. Each live subscription is backed by its own actor,
// spawned on SubscribeToStream/SubscribeToAllStreams and torn down on
// UnsubscribeFromStream or by crashing.
type Manager struct {
	checkpoints checkpoint.Store
	reader      historical.Reader
	bus         *broadcast.Bus
	logger      logger.Logger
	metrics     *Metrics

	mx     sync.Mutex
	actors map[handleKey]*actor
}

// NewManager wires a Manager against the given checkpoint store, historical
// reader, and broadcast bus. metrics may be nil to disable instrumentation.
func NewManager(checkpoints checkpoint.Store, reader historical.Reader, bus *broadcast.Bus, log logger.Logger, metrics *Metrics) *Manager {
	return &Manager{
		checkpoints: checkpoints,
		reader:      reader,
		bus:         bus,
		logger:      log,
		metrics:     metrics,
		actors:      make(map[handleKey]*actor),
	}
}

// SubscribeToStream starts (or resumes, from its durable checkpoint) a
// subscription against a single stream. It returns ErrSubscriptionAlreadyExists
// if an actor is already live for this (streamKey, subscriptionName) pair.
func (m *Manager) SubscribeToStream(ctx context.Context, streamKey, subscriptionName string, subscriber Subscriber, opts Options) (*Handle, error) {
	return m.subscribe(ctx, streamKey, subscriptionName, subscriber, opts)
}

// SubscribeToAllStreams starts (or resumes) a subscription against every
// stream in the store, delivered in global append order.
func (m *Manager) SubscribeToAllStreams(ctx context.Context, subscriptionName string, subscriber Subscriber, opts Options) (*Handle, error) {
	return m.subscribe(ctx, event.AllStreams, subscriptionName, subscriber, opts)
}

func (m *Manager) subscribe(ctx context.Context, streamKey, subscriptionName string, subscriber Subscriber, opts Options) (*Handle, error) {
	key := handleKey{streamKey: streamKey, subscriptionName: subscriptionName}

	m.mx.Lock()
	if existing, ok := m.actors[key]; ok && !existing.crashed() {
		m.mx.Unlock()
		return nil, ErrSubscriptionAlreadyExists
	}

	a := newActor(ctx, streamKey, subscriptionName, subscriber, opts, m.checkpoints, m.reader, m.bus, m.logger, m.metrics)
	m.actors[key] = a
	m.mx.Unlock()

	if err := a.awaitReady(ctx); err != nil {
		m.mx.Lock()
		if m.actors[key] == a {
			delete(m.actors, key)
		}
		m.mx.Unlock()

		return nil, err
	}

	m.metrics.subscribe(ctx, streamKey, subscriptionName)

	return &Handle{StreamKey: streamKey, SubscriptionName: subscriptionName, actor: a}, nil
}

// Ack acknowledges delivery up to cursor. It is fire-and-forget: the
// checkpoint write happens asynchronously on the actor's own goroutine.
// It returns ErrActorCrashed if the subscription's actor has already
// stopped.
func (m *Manager) Ack(handle *Handle, cursor Cursor) error {
	if handle == nil || handle.actor == nil {
		return ErrSubscriptionNotFound
	}

	if handle.actor.crashed() {
		return ErrActorCrashed
	}

	select {
	case handle.actor.mailbox <- ackRequest{cursor: cursor}:
		return nil
	case <-handle.actor.done:
		return ErrActorCrashed
	}
}

// UnsubscribeFromStream stops the live actor for (streamKey,
// subscriptionName), if any, and deletes its durable checkpoint. It blocks
// until the actor has processed the request. It is not an error to
// unsubscribe from a pair with no live actor: any leftover checkpoint row
// is deleted directly.
func (m *Manager) UnsubscribeFromStream(ctx context.Context, streamKey, subscriptionName string) error {
	key := handleKey{streamKey: streamKey, subscriptionName: subscriptionName}

	m.mx.Lock()
	a, ok := m.actors[key]
	if ok {
		delete(m.actors, key)
	}
	m.mx.Unlock()

	if !ok || a.crashed() {
		if err := m.checkpoints.Unsubscribe(ctx, streamKey, subscriptionName); err != nil {
			return err
		}

		m.metrics.unsubscribe(ctx, streamKey, subscriptionName)

		return nil
	}

	reply := make(chan error, 1)

	select {
	case a.mailbox <- unsubscribeMsg{reply: reply}:
	case <-a.done:
		m.metrics.unsubscribe(ctx, streamKey, subscriptionName)
		return nil
	}

	select {
	case err := <-reply:
		if err == nil {
			m.metrics.unsubscribe(ctx, streamKey, subscriptionName)
		}

		return err
	case <-a.done:
		m.metrics.unsubscribe(ctx, streamKey, subscriptionName)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribed reports whether handle addresses a live actor whose state
// machine is in the subscribed phase (caught up and receiving live events).
func (m *Manager) Subscribed(handle *Handle) bool {
	if handle == nil || handle.actor == nil {
		return false
	}

	reply := make(chan bool, 1)

	select {
	case handle.actor.mailbox <- subscribedMsg{reply: reply}:
	case <-handle.actor.done:
		return false
	}

	select {
	case v := <-reply:
		return v
	case <-handle.actor.done:
		return false
	}
}
