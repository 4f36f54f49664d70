package subscription

import "github.com/streamsub/core/event"

// Cursor addresses the point in a subscription's sequence that Ack
// acknowledges. It can wrap a bare integer (interpreted against whichever
// axis the subscription naturally uses — event number for the all-streams
// target, stream version otherwise), a single event, or an event slice
// (the list form acks the last element).
//
// Whichever axis is left unset by the constructor used is resolved by the
// actor from the last batch it delivered, since the durable checkpoint
// always stores both columns atomically.
type Cursor struct {
	eventNumber      int64
	hasEventNumber   bool
	streamVersion    int64
	hasStreamVersion bool
}

// CursorFromEventNumber wraps a bare event number, for acking an
// all-streams subscription.
func CursorFromEventNumber(n int64) Cursor {
	return Cursor{eventNumber: n, hasEventNumber: true}
}

// CursorFromStreamVersion wraps a bare stream version, for acking a
// single-stream subscription.
func CursorFromStreamVersion(n int64) Cursor {
	return Cursor{streamVersion: n, hasStreamVersion: true}
}

// CursorFromEvent wraps both cursor fields carried by e.
func CursorFromEvent(e event.Recorded) Cursor {
	return Cursor{
		eventNumber:      e.EventNumber,
		hasEventNumber:   true,
		streamVersion:    e.StreamVersion,
		hasStreamVersion: true,
	}
}

// CursorFromEvents acks the last event of batch. Panics if batch is empty;
// callers are expected to have already validated it is not.
func CursorFromEvents(batch []event.Recorded) Cursor {
	return CursorFromEvent(batch[len(batch)-1])
}

// resolve fills in whichever axis this Cursor didn't set from (fallbackEventNumber,
// fallbackStreamVersion), normally the last event the owning actor delivered.
func (c Cursor) resolve(fallbackEventNumber, fallbackStreamVersion int64) (eventNumber, streamVersion int64) {
	eventNumber, streamVersion = fallbackEventNumber, fallbackStreamVersion

	if c.hasEventNumber {
		eventNumber = c.eventNumber
	}

	if c.hasStreamVersion {
		streamVersion = c.streamVersion
	}

	return eventNumber, streamVersion
}
