package historical

import (
	"context"
	"sort"
	"sync"

	"github.com/streamsub/core/event"
)

// InMemory is a Reader implementation backed by an in-process slice of
// events, useful for tests and for embedding the subscription core
// alongside an in-memory event store.
type InMemory struct {
	mx     sync.RWMutex
	events []event.Recorded
}

var _ Reader = &InMemory{}

// NewInMemory returns an empty in-memory historical reader.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Append adds events to the reader's backing slice. Intended for test
// fixtures that need to seed history before exercising a subscription.
func (im *InMemory) Append(events ...event.Recorded) {
	im.mx.Lock()
	defer im.mx.Unlock()

	im.events = append(im.events, events...)
}

func (im *InMemory) UnseenEventStream(
	ctx context.Context,
	streamKey string,
	lastSeenCursor int64,
	batchSize int,
) (<-chan Batch, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	im.mx.RLock()
	defer im.mx.RUnlock()

	all := event.IsAllStreams(streamKey)

	var matched []event.Recorded

	for _, e := range im.events {
		if !all && e.StreamKey != streamKey {
			continue
		}

		if event.Cursor(streamKey, e) > lastSeenCursor {
			matched = append(matched, e)
		}
	}

	if !all && len(matched) == 0 && !im.hasStream(streamKey) {
		return nil, ErrStreamNotFound
	}

	sort.Slice(matched, func(i, j int) bool {
		return event.Cursor(streamKey, matched[i]) < event.Cursor(streamKey, matched[j])
	})

	ch := make(chan Batch, 1)

	go func() {
		defer close(ch)

		for start := 0; start < len(matched); start += batchSize {
			end := start + batchSize
			if end > len(matched) {
				end = len(matched)
			}

			select {
			case <-ctx.Done():
				ch <- Batch{Err: ctx.Err()}
				return
			case ch <- Batch{Events: matched[start:end]}:
			}
		}
	}()

	return ch, nil
}

func (im *InMemory) hasStream(streamKey string) bool {
	for _, e := range im.events {
		if e.StreamKey == streamKey {
			return true
		}
	}

	return false
}
