package subscription

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/streamsub/core/broadcast"
	"github.com/streamsub/core/event"
	"github.com/streamsub/core/historical"
	"github.com/streamsub/core/logger"
	"github.com/streamsub/core/subscription/checkpoint"
	"github.com/streamsub/core/subscription/fsm"
)

const mailboxSize = 256

// Mailbox messages the actor accepts, besides the fsm.Input values it feeds
// directly into its state machine.
type (
	notifyMsg struct {
		events []event.Recorded
	}

	ackRequest struct {
		cursor Cursor
	}

	caughtUpMsg struct {
		eventNumber, streamVersion int64
	}

	workerFailedMsg struct {
		err error
	}

	// workerDeliverMsg asks the actor to deliver chunk on the worker's
	// behalf, funnelling every Subscriber.Events call - whether sourced
	// from drainPending or from a catch-up worker - through the same
	// single-writer path in mailbox order. result receives the outcome
	// exactly once.
	workerDeliverMsg struct {
		chunk  []event.Recorded
		result chan<- error
	}

	unsubscribeMsg struct {
		reply chan error
	}

	subscribedMsg struct {
		reply chan bool
	}
)

// actor owns one subscription's fsm.Machine and exclusively serializes
// every transition over its mailbox: a single-writer loop reading one
// message at a time, carrying out whatever Effects each transition
// produces before picking up the next.
type actor struct {
	streamKey        string
	subscriptionName string
	subscriber       Subscriber
	opts             Options

	checkpoints checkpoint.Store
	reader      historical.Reader
	bus         *broadcast.Bus
	logger      logger.Logger
	metrics     *Metrics

	mailbox chan any
	ready   chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	initErr error
	machine fsm.Machine

	lastDeliveredEventNumber   int64
	lastDeliveredStreamVersion int64

	listener     *broadcast.Listener
	listenerPump *errgroup.Group
	workerAckCh  chan caughtUpAck
	workerCancel context.CancelFunc

	// stashedDeliver holds a workerDeliverMsg received while m.Pending was
	// still non-empty. A catch-up worker only ever has one delivery
	// request in flight at a time (it blocks for the reply before
	// requesting the next chunk), so a single slot is always enough.
	stashedDeliver *workerDeliverMsg
}

// caughtUpAck is the cursor forwarded to a running catch-up worker.
type caughtUpAck struct {
	eventNumber, streamVersion int64
}

func newActor(
	parentCtx context.Context,
	streamKey, subscriptionName string,
	subscriber Subscriber,
	opts Options,
	checkpoints checkpoint.Store,
	reader historical.Reader,
	bus *broadcast.Bus,
	log logger.Logger,
	metrics *Metrics,
) *actor {
	ctx, cancel := context.WithCancel(parentCtx)

	a := &actor{
		streamKey:        streamKey,
		subscriptionName: subscriptionName,
		subscriber:       subscriber,
		opts:             opts,
		checkpoints:      checkpoints,
		reader:           reader,
		bus:              bus,
		logger:           log,
		metrics:          metrics,
		mailbox:          make(chan any, mailboxSize),
		ready:            make(chan struct{}),
		done:             make(chan struct{}),
		cancel:           cancel,
		machine:          fsm.New(streamKey, opts.maxSize()),
	}

	go a.run(ctx)

	return a
}

func (a *actor) crashed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func (a *actor) awaitReady(ctx context.Context) error {
	select {
	case <-a.ready:
		return a.initErr
	case <-a.done:
		return a.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *actor) run(ctx context.Context) {
	defer close(a.done)
	defer a.teardown(ctx)

	row, err := a.checkpoints.Subscribe(ctx, a.streamKey, a.subscriptionName, a.opts.StartFromEventNumber, a.opts.StartFromStreamVersion)
	a.initErr = err

	if err != nil {
		a.step(ctx, fsm.Subscribe{Err: err})
		close(a.ready)

		return
	}

	a.step(ctx, fsm.Subscribe{
		CheckpointEventNumber:   row.LastSeenEventNumber,
		CheckpointStreamVersion: row.LastSeenStreamVersion,
	})
	close(a.ready)

	if a.machine.Phase == fsm.Failed {
		return
	}

	a.listener = broadcast.Register(a.bus, a.streamKey, 0)

	group, groupCtx := errgroup.WithContext(ctx)
	a.listenerPump = group
	group.Go(func() error {
		a.pumpListener(groupCtx)
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.mailbox:
			a.dispatch(ctx, msg)

			if a.machine.Phase == fsm.Failed || a.machine.Phase == fsm.Unsubscribed {
				return
			}
		}
	}
}

// teardown runs after run's loop returns: it cancels the actor's own
// context (in case the exit wasn't already caused by cancellation), waits
// for the listener pump goroutine to fully exit, and only then unregisters
// from the Broadcast Bus and stops any in-flight catch-up worker.
func (a *actor) teardown(context.Context) {
	a.cancel()

	if a.listenerPump != nil {
		_ = a.listenerPump.Wait()
	}

	if a.listener != nil {
		broadcast.Unregister(a.bus, a.streamKey, a.listener)
	}

	if a.workerCancel != nil {
		a.workerCancel()
	}
}

func (a *actor) pumpListener(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-a.listener.C:
			if !ok {
				return
			}

			select {
			case a.mailbox <- notifyMsg{events: events}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *actor) dispatch(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case notifyMsg:
		a.step(ctx, fsm.NotifyEvents{Events: m.events})
		a.metrics.recordPendingDepth(ctx, a.streamKey, a.subscriptionName, len(a.machine.Pending))

	case ackRequest:
		en, sv := m.cursor.resolve(a.lastDeliveredEventNumber, a.lastDeliveredStreamVersion)
		a.step(ctx, fsm.Ack{EventNumber: en, StreamVersion: sv})
		a.metrics.ack(ctx, a.streamKey, a.subscriptionName)

	case caughtUpMsg:
		a.step(ctx, fsm.CaughtUp{LastSeenEventNumber: m.eventNumber, LastSeenStreamVersion: m.streamVersion})

	case workerFailedMsg:
		logger.Error(a.logger, "subscription.Actor: catch-up worker failed, crashing",
			logger.With("stream_key", a.streamKey),
			logger.With("subscription_name", a.subscriptionName),
			logger.With("err", m.err),
		)
		a.machine.Phase = fsm.Failed
		a.cancel()

	case workerDeliverMsg:
		a.handleWorkerDeliver(ctx, m)

	case unsubscribeMsg:
		a.step(ctx, fsm.Unsubscribe{})
		m.reply <- nil

	case subscribedMsg:
		m.reply <- a.isSubscribed()
	}

	a.flushStashedDeliver(ctx)
}

// handleWorkerDeliver either delivers a worker-sourced chunk immediately or,
// if m.Pending still holds older content that hasn't reached the subscriber
// yet, stashes the request until a later Ack drains Pending. This keeps
// delivery to the subscriber strictly monotonic even though the chunk was
// pulled by a separate goroutine: nothing calls a.subscriber.Events except
// this actor's own mailbox loop, in mailbox order.
func (a *actor) handleWorkerDeliver(ctx context.Context, m workerDeliverMsg) {
	if len(a.machine.Pending) > 0 {
		a.stashedDeliver = &m
		return
	}

	err := a.deliverChunk(ctx, m.chunk)
	if err != nil {
		a.cancel()
	}

	m.result <- err
}

// flushStashedDeliver delivers a previously stashed worker chunk once
// m.Pending has drained. Pending never grows again once a catch-up worker is
// running, so at most one flush is ever needed per stash.
func (a *actor) flushStashedDeliver(ctx context.Context) {
	if a.stashedDeliver == nil || len(a.machine.Pending) > 0 {
		return
	}

	if a.machine.Phase == fsm.Failed || a.machine.Phase == fsm.Unsubscribed {
		return
	}

	m := a.stashedDeliver
	a.stashedDeliver = nil

	err := a.deliverChunk(ctx, m.chunk)
	if err != nil {
		a.cancel()
	}

	m.result <- err
}

func (a *actor) isSubscribed() bool {
	return a.machine.Phase == fsm.Subscribed
}

// step feeds in into the machine, carries out the resulting Effects, and
// re-enters handleSubscriptionState: if the machine entered
// request_catch_up, it self-posts catch_up; if it entered max_capacity, it
// logs a warning. Both happen synchronously, since this method only ever
// runs on the actor's own goroutine.
func (a *actor) step(ctx context.Context, in fsm.Input) {
	newMachine, effects := fsm.Transition(a.machine, in)
	a.machine = newMachine

	for _, effect := range effects {
		a.apply(ctx, effect)
	}

	switch a.machine.Phase {
	case fsm.RequestCatchUp:
		a.step(ctx, fsm.CatchUp{})
	case fsm.MaxCapacity:
		logger.Warn(a.logger, "subscription parked at max_capacity",
			logger.With("stream_key", a.streamKey),
			logger.With("subscription_name", a.subscriptionName),
		)

		a.metrics.maxCapacity(ctx, a.streamKey, a.subscriptionName)
	}
}

func (a *actor) apply(ctx context.Context, effect fsm.Effect) {
	switch e := effect.(type) {
	case fsm.SpawnCatchUpWorker:
		a.spawnCatchUpWorker(ctx, e.FromEventNumber, e.FromStreamVersion)

	case fsm.DurableAck:
		if err := a.checkpoints.Ack(ctx, a.streamKey, a.subscriptionName, e.EventNumber, e.StreamVersion); err != nil {
			logger.Error(a.logger, "subscription.Actor: failed to persist checkpoint ack",
				logger.With("stream_key", a.streamKey),
				logger.With("subscription_name", a.subscriptionName),
				logger.With("err", err),
			)
		}

	case fsm.ForwardAckToWorker:
		// While a worker chunk is stashed the worker is blocked waiting for
		// its delivery result, not for an ack, and any ack seen now is for
		// older content it would ignore anyway.
		if a.workerAckCh == nil || a.stashedDeliver != nil {
			return
		}

		select {
		case a.workerAckCh <- caughtUpAck{eventNumber: e.EventNumber, streamVersion: e.StreamVersion}:
		case <-ctx.Done():
		}

	case fsm.Deliver:
		a.deliver(ctx, e.Chunks)

	case fsm.DeleteCheckpoint:
		if err := a.checkpoints.Unsubscribe(ctx, a.streamKey, a.subscriptionName); err != nil {
			logger.Error(a.logger, "subscription.Actor: failed to delete checkpoint",
				logger.With("stream_key", a.streamKey),
				logger.With("subscription_name", a.subscriptionName),
				logger.With("err", err),
			)
		}

	case fsm.Warn:
		logger.Warn(a.logger, e.Message)

	case fsm.Crash:
		logger.Error(a.logger, "subscription.Actor: protocol violation, crashing",
			logger.With("stream_key", a.streamKey),
			logger.With("subscription_name", a.subscriptionName),
			logger.With("err", e.Err),
		)
		a.cancel()
	}
}

func (a *actor) deliver(ctx context.Context, chunks [][]event.Recorded) {
	for _, chunk := range chunks {
		if err := a.deliverChunk(ctx, chunk); err != nil {
			a.cancel()
			return
		}
	}
}

// deliverChunk is the only place in the actor that calls
// Subscriber.Events. It is reached either directly, for a drainPending
// Deliver effect, or indirectly via a workerDeliverMsg forwarded by a
// catch-up worker - always on the actor's own goroutine, so calls into the
// Subscriber are never concurrent and always land in mailbox order.
func (a *actor) deliverChunk(ctx context.Context, chunk []event.Recorded) error {
	if len(chunk) == 0 {
		return nil
	}

	if err := a.subscriber.Events(ctx, a.opts.mapChunk(chunk)); err != nil {
		logger.Error(a.logger, "subscription.Actor: subscriber returned an error, crashing",
			logger.With("stream_key", a.streamKey),
			logger.With("subscription_name", a.subscriptionName),
			logger.With("err", err),
		)

		return err
	}

	last := chunk[len(chunk)-1]
	a.lastDeliveredEventNumber = last.EventNumber
	a.lastDeliveredStreamVersion = last.StreamVersion

	return nil
}

func (a *actor) spawnCatchUpWorker(ctx context.Context, fromEventNumber, fromStreamVersion int64) {
	workerCtx, cancel := context.WithCancel(ctx)
	a.workerCancel = cancel
	a.workerAckCh = make(chan caughtUpAck)

	go runCatchUpWorker(workerCtx, catchUpParams{
		streamKey:         a.streamKey,
		subscriptionName:  a.subscriptionName,
		reader:            a.reader,
		fromEventNumber:   fromEventNumber,
		fromStreamVersion: fromStreamVersion,
		ackCh:             a.workerAckCh,
		mailbox:           a.mailbox,
		metrics:           a.metrics,
	})
}
