// Package event contains the data model for events flowing through the
// subscription core: the immutable record appended by the writer, and the
// cursor arithmetic a subscription uses to track its place in a stream.
package event

import (
	"time"

	"github.com/google/uuid"
)

// AllStreams is the reserved stream key identifying the all-streams
// subscription. Its ack cursor is the global event number, rather than a
// per-stream version.
const AllStreams = "$all"

// Metadata keys stamped by the writer's append path.
const (
	EventIDKey       = "Event-Id"
	CorrelationIDKey = "Correlation-Id"
	CausationIDKey   = "Causation-Id"
)

// Metadata is a flat string-keyed bag attached to a RecordedEvent.
type Metadata map[string]string

// With sets key to value in m, allocating m first if it is nil, and returns
// it. A non-nil m is modified in place.
func (m Metadata) With(key, value string) Metadata {
	if m == nil {
		m = make(Metadata, 1)
	}

	m[key] = value

	return m
}

// Merge merges the other Metadata provided in input with the current map.
func (m Metadata) Merge(other Metadata) Metadata {
	if m == nil {
		return other
	}

	for k, v := range other {
		m[k] = v
	}

	return m
}

// CorrelationID returns the correlation identifier stamped by the writer,
// if any.
func (m Metadata) CorrelationID() string { return m[CorrelationIDKey] }

// CausationID returns the causation identifier stamped by the writer, if any.
func (m Metadata) CausationID() string { return m[CausationIDKey] }

// Recorded is an immutable event appended to the store.
//
// Recorded events are never mutated or deleted once committed: StreamVersion
// is dense starting at 1 within a stream, and EventNumber is strictly
// increasing with append order across the whole store.
type Recorded struct {
	EventID       uuid.UUID
	EventNumber   int64
	StreamKey     string
	StreamVersion int64
	EventType     string
	Payload       []byte
	Metadata      Metadata
	CreatedAt     time.Time
}

// CorrelationID is a convenience accessor over Metadata.
func (e Recorded) CorrelationID() string { return e.Metadata.CorrelationID() }

// IsAllStreams reports whether streamKey identifies the all-streams
// subscription target, i.e. whether its natural cursor is the global event
// number rather than the per-stream version.
func IsAllStreams(streamKey string) bool { return streamKey == AllStreams }

// Cursor returns the ack cursor relevant to a subscription targeting
// streamKey: the event number for the all-streams subscription, the stream
// version otherwise.
func Cursor(streamKey string, e Recorded) int64 {
	if IsAllStreams(streamKey) {
		return e.EventNumber
	}

	return e.StreamVersion
}

// Chunk splits events into contiguous runs sharing the same
// (StreamKey, CorrelationID) pair, preserving order.
//
// This regroups historical and pending batches along the writer's original
// correlation boundaries (used by the drain-pending and catch-up delivery
// paths) without ever reordering events.
func Chunk(events []Recorded) [][]Recorded {
	if len(events) == 0 {
		return nil
	}

	chunks := make([][]Recorded, 0, 1)
	start := 0

	for i := 1; i < len(events); i++ {
		if events[i].StreamKey != events[start].StreamKey ||
			events[i].CorrelationID() != events[start].CorrelationID() {
			chunks = append(chunks, events[start:i])
			start = i
		}
	}

	chunks = append(chunks, events[start:])

	return chunks
}
