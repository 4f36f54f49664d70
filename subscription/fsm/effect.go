package fsm

import "github.com/streamsub/core/event"

// Effect is something the actor must carry out as a consequence of a
// transition: a database write, spawning a goroutine, delivering a batch
// to the subscriber, or logging. The Machine never performs these itself.
type Effect interface {
	isEffect()
}

// SpawnCatchUpWorker tells the actor to start a catch-up worker reading
// strictly after the given cursor.
type SpawnCatchUpWorker struct {
	FromEventNumber   int64
	FromStreamVersion int64
}

// DurableAck tells the actor to atomically persist both cursor fields of
// the checkpoint row.
type DurableAck struct {
	EventNumber   int64
	StreamVersion int64
}

// ForwardAckToWorker tells the actor to pass the ack through to the
// in-flight catch-up worker, which is blocked waiting for it.
type ForwardAckToWorker struct {
	EventNumber   int64
	StreamVersion int64
}

// Deliver tells the actor to call the subscriber once per chunk, in order.
type Deliver struct {
	Chunks [][]event.Recorded
}

// DeleteCheckpoint tells the actor to remove the durable checkpoint row.
type DeleteCheckpoint struct{}

// Warn tells the actor to log a warning; used when the machine enters
// MaxCapacity.
type Warn struct {
	Message string
}

// Crash tells the actor that a protocol violation occurred and it must
// stop, so a supervisor can restart it from the durable checkpoint.
type Crash struct {
	Err error
}

func (SpawnCatchUpWorker) isEffect()  {}
func (DurableAck) isEffect()          {}
func (ForwardAckToWorker) isEffect()  {}
func (Deliver) isEffect()             {}
func (DeleteCheckpoint) isEffect()    {}
func (Warn) isEffect()                {}
func (Crash) isEffect()               {}
