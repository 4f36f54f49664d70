package fsm

import (
	"errors"
	"fmt"

	"github.com/streamsub/core/event"
)

// ErrWrongAck is the protocol violation that crashes a subscription actor:
// an ack that moves last_ack backward, or jumps past last_seen.
var ErrWrongAck = errors.New("fsm: ack cursor out of order")

// DefaultMaxSize bounds pending_events when a Machine is constructed with a
// non-positive MaxSize.
const DefaultMaxSize = 64

// Machine is the durable-free state of one subscription's state machine.
// It holds no connections, goroutines, or channels, and is passed and
// returned by value.
type Machine struct {
	Phase     Phase
	StreamKey string
	MaxSize   int

	lastSeenEventNumber, lastSeenStreamVersion     int64
	lastAckEventNumber, lastAckStreamVersion       int64
	lastReceivedEventNumber, lastReceivedStreamVersion int64
	hasLastReceived                                bool

	Pending []event.Recorded
}

// New returns a fresh Machine in the Initial phase for streamKey. A
// non-positive maxSize is replaced with DefaultMaxSize.
func New(streamKey string, maxSize int) Machine {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	return Machine{Phase: Initial, StreamKey: streamKey, MaxSize: maxSize}
}

func (m Machine) cursor(e event.Recorded) int64 {
	return event.Cursor(m.StreamKey, e)
}

// LastSeen returns the cursor of the most recent event the machine has
// recorded as seen (received and accounted for, whether delivered or
// parked).
func (m Machine) LastSeen() int64 {
	if event.IsAllStreams(m.StreamKey) {
		return m.lastSeenEventNumber
	}

	return m.lastSeenStreamVersion
}

// LastAck returns the cursor of the most recent acknowledged event.
func (m Machine) LastAck() int64 {
	if event.IsAllStreams(m.StreamKey) {
		return m.lastAckEventNumber
	}

	return m.lastAckStreamVersion
}

func (m Machine) lastReceived() (int64, bool) {
	if !m.hasLastReceived {
		return 0, false
	}

	if event.IsAllStreams(m.StreamKey) {
		return m.lastReceivedEventNumber, true
	}

	return m.lastReceivedStreamVersion, true
}

// Transition feeds in to m and returns the resulting Machine along with the
// Effects the actor must carry out. m is never mutated.
func Transition(m Machine, in Input) (Machine, []Effect) {
	if m.Phase.Terminal() {
		return absorb(m, in), nil
	}

	switch m.Phase {
	case Initial:
		return onInitial(m, in)
	case RequestCatchUp:
		return onRequestCatchUp(m, in)
	case CatchingUp:
		return onCatchingUp(m, in)
	case Subscribed:
		return onSubscribed(m, in)
	case MaxCapacity:
		return onMaxCapacity(m, in)
	default:
		return m, nil
	}
}

// absorb implements the terminal-state row: every input is absorbed, and
// only last_received is tracked, for inputs where that is meaningful.
func absorb(m Machine, in Input) Machine {
	if ne, ok := in.(NotifyEvents); ok && len(ne.Events) > 0 {
		m.setLastReceived(ne.Events[len(ne.Events)-1])
	}

	return m
}

func onInitial(m Machine, in Input) (Machine, []Effect) {
	if _, ok := in.(Unsubscribe); ok {
		m.Phase = Unsubscribed
		return m, []Effect{DeleteCheckpoint{}}
	}

	sub, ok := in.(Subscribe)
	if !ok {
		return m, nil
	}

	if sub.Err != nil {
		m.Phase = Failed
		return m, nil
	}

	m.lastSeenEventNumber = sub.CheckpointEventNumber
	m.lastSeenStreamVersion = sub.CheckpointStreamVersion
	m.lastAckEventNumber = sub.CheckpointEventNumber
	m.lastAckStreamVersion = sub.CheckpointStreamVersion
	m.Phase = RequestCatchUp

	return m, nil
}

func onRequestCatchUp(m Machine, in Input) (Machine, []Effect) {
	switch v := in.(type) {
	case CatchUp:
		m.Phase = CatchingUp
		return m, []Effect{SpawnCatchUpWorker{
			FromEventNumber:   m.lastSeenEventNumber,
			FromStreamVersion: m.lastSeenStreamVersion,
		}}

	case Ack:
		return ackCommon(m, v, RequestCatchUp)

	case NotifyEvents:
		if len(v.Events) > 0 {
			m.setLastReceived(v.Events[len(v.Events)-1])
		}

		return m, nil

	case Unsubscribe:
		m.Phase = Unsubscribed
		return m, []Effect{DeleteCheckpoint{}}

	default:
		return m, nil
	}
}

func onCatchingUp(m Machine, in Input) (Machine, []Effect) {
	switch v := in.(type) {
	case CaughtUp:
		seenCursor := v.LastSeenEventNumber
		if !event.IsAllStreams(m.StreamKey) {
			seenCursor = v.LastSeenStreamVersion
		}

		m.lastSeenEventNumber = v.LastSeenEventNumber
		m.lastSeenStreamVersion = v.LastSeenStreamVersion

		received, has := m.lastReceived()
		if !has || received == seenCursor {
			m.Phase = Subscribed
		} else {
			m.Phase = RequestCatchUp
		}

		return m, nil

	case Ack:
		// Chunks delivered by the catch-up worker only reach the machine as
		// a whole, through CaughtUp, so an ack ahead of last_seen here is
		// taken to cover them and last_seen is raised to it. The worker
		// itself rejects an ack ahead of the chunk it delivered.
		ackCursor := v.EventNumber
		if !event.IsAllStreams(m.StreamKey) {
			ackCursor = v.StreamVersion
		}

		if ackCursor > m.LastSeen() {
			m.lastSeenEventNumber = v.EventNumber
			m.lastSeenStreamVersion = v.StreamVersion
		}

		newM, effects := ackCommon(m, v, CatchingUp)
		if newM.Phase == CatchingUp {
			effects = append(effects, ForwardAckToWorker{EventNumber: v.EventNumber, StreamVersion: v.StreamVersion})
		}

		return newM, effects

	case NotifyEvents:
		if len(v.Events) > 0 {
			m.setLastReceived(v.Events[len(v.Events)-1])
		}

		return m, nil

	case CatchUp:
		return m, nil

	case Unsubscribe:
		m.Phase = Unsubscribed
		return m, []Effect{DeleteCheckpoint{}}

	default:
		return m, nil
	}
}

func onSubscribed(m Machine, in Input) (Machine, []Effect) {
	switch v := in.(type) {
	case NotifyEvents:
		return liveNotify(m, v.Events)

	case Ack:
		return ackCommon(m, v, Subscribed)

	case CatchUp:
		m.Phase = RequestCatchUp
		return m, nil

	case Unsubscribe:
		m.Phase = Unsubscribed
		return m, []Effect{DeleteCheckpoint{}}

	default:
		return m, nil
	}
}

func onMaxCapacity(m Machine, in Input) (Machine, []Effect) {
	switch v := in.(type) {
	case Ack:
		newM, effects := ackCommon(m, v, MaxCapacity)
		if newM.Phase == MaxCapacity && len(newM.Pending) == 0 {
			newM.Phase = RequestCatchUp
		}

		return newM, effects

	case NotifyEvents:
		if len(v.Events) > 0 {
			m.setLastReceived(v.Events[len(v.Events)-1])
		}

		return m, nil

	case Unsubscribe:
		m.Phase = Unsubscribed
		return m, []Effect{DeleteCheckpoint{}}

	default:
		return m, nil
	}
}

func (m *Machine) setLastReceived(e event.Recorded) {
	m.lastReceivedEventNumber = e.EventNumber
	m.lastReceivedStreamVersion = e.StreamVersion
	m.hasLastReceived = true
}

// ackCommon validates and applies an Ack, common to every non-terminal
// phase: §4.4.5 requires every conforming ack to durably persist both
// cursor fields and then attempt to drain pending (§4.4.2), regardless of
// which phase it arrived in. A repeated ack of the same cursor is accepted
// as a harmless duplicate (the checkpoint store write is idempotent); only
// a cursor strictly behind last_ack, or past last_seen, is a protocol
// violation. stayPhase is the phase the machine remains in once the ack is
// accepted; callers may further adjust it (e.g. max_capacity reconciling
// to request_catch_up once pending empties).
func ackCommon(m Machine, in Ack, stayPhase Phase) (Machine, []Effect) {
	ackCursor := in.EventNumber
	if !event.IsAllStreams(m.StreamKey) {
		ackCursor = in.StreamVersion
	}

	if ackCursor < m.LastAck() || ackCursor > m.LastSeen() {
		m.Phase = Failed
		return m, []Effect{Crash{Err: fmt.Errorf("%w: last_ack=%d last_seen=%d ack=%d", ErrWrongAck, m.LastAck(), m.LastSeen(), ackCursor)}}
	}

	m.lastAckEventNumber = in.EventNumber
	m.lastAckStreamVersion = in.StreamVersion
	m.Phase = stayPhase

	effects := []Effect{DurableAck{EventNumber: in.EventNumber, StreamVersion: in.StreamVersion}}

	var drained []Effect
	m, drained = drainPending(m)
	effects = append(effects, drained...)

	return m, effects
}

// drainPending implements the drain-pending policy of §4.4.2.
func drainPending(m Machine) (Machine, []Effect) {
	if len(m.Pending) == 0 {
		return m, nil
	}

	nextAck := m.LastAck() + 1
	if m.cursor(m.Pending[0]) != nextAck {
		return m, nil
	}

	chunks := event.Chunk(m.Pending)
	m.Pending = nil

	return m, []Effect{Deliver{Chunks: chunks}}
}

// liveNotify implements the live notify policy of §4.4.1.
func liveNotify(m Machine, e []event.Recorded) (Machine, []Effect) {
	if len(e) == 0 {
		return m, nil
	}

	nextAck := m.LastAck() + 1
	expectedEvent := m.LastSeen() + 1
	first := m.cursor(e[0])

	switch {
	case first == nextAck:
		m.setSeenAndReceived(e[len(e)-1])
		return m, []Effect{Deliver{Chunks: [][]event.Recorded{e}}}

	case first == expectedEvent:
		m.setSeenAndReceived(e[len(e)-1])
		m.Pending = append(m.Pending, e...)

		if len(m.Pending) >= m.MaxSize {
			m.Phase = MaxCapacity
			return m, []Effect{Warn{Message: "subscription parked at max_capacity"}}
		}

		return m, nil

	default:
		m.setLastReceived(e[len(e)-1])
		m.Phase = RequestCatchUp
		return m, nil
	}
}

func (m *Machine) setSeenAndReceived(e event.Recorded) {
	m.lastSeenEventNumber = e.EventNumber
	m.lastSeenStreamVersion = e.StreamVersion
	m.setLastReceived(e)
}
