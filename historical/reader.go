// Package historical provides the Historical Reader: a bounded,
// paginated, snapshot-at-call-time view over previously appended events,
// used by a subscription's catch-up worker to replay everything it missed.
package historical

import (
	"context"
	"errors"

	"github.com/streamsub/core/event"
)

// ErrStreamNotFound is returned by UnseenEventStream when streamKey
// identifies a single stream with no backing rows. It is never returned for
// the all-streams target, which is always considered to exist (possibly
// empty).
var ErrStreamNotFound = errors.New("historical: stream not found")

// Batch is a page of at most batchSize events, in increasing cursor order.
type Batch struct {
	Events []event.Recorded
	Err    error
}

// DefaultBatchSize is used whenever a caller passes a non-positive
// batchSize to Reader.UnseenEventStream.
const DefaultBatchSize = 256

// Reader streams events appended strictly after a cursor, in bounded
// batches, as they stood at the moment the call was made: it is a
// snapshot, not a live feed. A Subscription Actor's catch-up worker calls
// this to replay backlog before folding in live events from the Broadcast
// Bus.
type Reader interface {
	// UnseenEventStream returns a channel of Batch values for streamKey,
	// strictly after lastSeenCursor, up to batchSize events per batch. The
	// channel is closed once the snapshot is exhausted; a producer error is
	// reported as the Err field of the final Batch sent, rather than a
	// second return value, so the caller only has to watch one channel.
	//
	// Returns ErrStreamNotFound immediately, without returning a channel,
	// if streamKey addresses a single stream that doesn't exist.
	UnseenEventStream(ctx context.Context, streamKey string, lastSeenCursor int64, batchSize int) (<-chan Batch, error)
}
