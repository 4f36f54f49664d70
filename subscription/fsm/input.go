package fsm

import "github.com/streamsub/core/event"

// Input is one of the events the subscription state machine accepts:
// Subscribe, CatchUp, CaughtUp, NotifyEvents, Ack, or Unsubscribe.
type Input interface {
	isInput()
}

// Subscribe carries the outcome of opening or fetching the durable
// checkpoint, which the actor performs before feeding this input: the
// Machine itself never touches the checkpoint store.
type Subscribe struct {
	Err                     error
	CheckpointEventNumber   int64
	CheckpointStreamVersion int64
}

// CatchUp asks the machine to spawn (or re-spawn) a catch-up worker.
type CatchUp struct{}

// CaughtUp is sent by a catch-up worker once its replay sequence is
// exhausted.
type CaughtUp struct {
	LastSeenEventNumber   int64
	LastSeenStreamVersion int64
}

// NotifyEvents is a hint from the Broadcast Bus that new events were
// appended. The batch is never empty and is in cursor order.
type NotifyEvents struct {
	Events []event.Recorded
}

// Ack acknowledges processing up to and including the given cursor.
type Ack struct {
	EventNumber   int64
	StreamVersion int64
}

// Unsubscribe tears the subscription down.
type Unsubscribe struct{}

func (Subscribe) isInput()    {}
func (CatchUp) isInput()      {}
func (CaughtUp) isInput()     {}
func (NotifyEvents) isInput() {}
func (Ack) isInput()          {}
func (Unsubscribe) isInput()  {}
