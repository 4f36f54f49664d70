package subscription

import "github.com/streamsub/core/event"

// DefaultMaxSize is used when Options.MaxSize is non-positive.
const DefaultMaxSize = 1000

// Options configures a new subscription.
type Options struct {
	// StartFromEventNumber and StartFromStreamVersion seed the checkpoint
	// the first time this (streamKey, subscriptionName) pair subscribes.
	// They have no effect on a pre-existing checkpoint row.
	StartFromEventNumber   int64
	StartFromStreamVersion int64

	// Mapper, if set, transforms each event.Recorded before it reaches the
	// Subscriber. Left nil, the subscriber receives event.Recorded values
	// directly.
	Mapper func(event.Recorded) any

	// MaxSize bounds how many live events the subscription will hold in
	// pending_events before parking in max_capacity. Defaults to
	// DefaultMaxSize.
	MaxSize int
}

func (o Options) maxSize() int {
	if o.MaxSize <= 0 {
		return DefaultMaxSize
	}

	return o.MaxSize
}

func (o Options) mapChunk(chunk []event.Recorded) []any {
	out := make([]any, len(chunk))

	for i, e := range chunk {
		if o.Mapper != nil {
			out[i] = o.Mapper(e)
			continue
		}

		out[i] = e
	}

	return out
}
