package checkpoint

import (
	"context"
	"sync"
)

type key struct {
	streamKey        string
	subscriptionName string
}

// InMemory is a Store implementation backed by a guarded map, useful for
// tests and for subscriptions that don't need to survive a restart.
type InMemory struct {
	mx   sync.Mutex
	rows map[key]Row
}

// NewInMemory returns an empty in-memory checkpoint store.
func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[key]Row)}
}

var _ Store = &InMemory{}

func (im *InMemory) Subscribe(
	_ context.Context,
	streamKey, subscriptionName string,
	startFromEventNumber, startFromStreamVersion int64,
) (Row, error) {
	im.mx.Lock()
	defer im.mx.Unlock()

	k := key{streamKey, subscriptionName}

	if row, ok := im.rows[k]; ok {
		return row, nil
	}

	row := Row{
		StreamKey:             streamKey,
		SubscriptionName:      subscriptionName,
		LastSeenEventNumber:   startFromEventNumber,
		LastSeenStreamVersion: startFromStreamVersion,
	}

	im.rows[k] = row

	return row, nil
}

func (im *InMemory) Ack(_ context.Context, streamKey, subscriptionName string, eventNumber, streamVersion int64) error {
	im.mx.Lock()
	defer im.mx.Unlock()

	k := key{streamKey, subscriptionName}
	row := im.rows[k]
	row.StreamKey = streamKey
	row.SubscriptionName = subscriptionName
	row.LastSeenEventNumber = eventNumber
	row.LastSeenStreamVersion = streamVersion
	im.rows[k] = row

	return nil
}

func (im *InMemory) Unsubscribe(_ context.Context, streamKey, subscriptionName string) error {
	im.mx.Lock()
	defer im.mx.Unlock()

	delete(im.rows, key{streamKey, subscriptionName})

	return nil
}

func (im *InMemory) Query(_ context.Context, streamKey, subscriptionName string) (Row, error) {
	im.mx.Lock()
	defer im.mx.Unlock()

	row, ok := im.rows[key{streamKey, subscriptionName}]
	if !ok {
		return Row{}, ErrSubscriptionNotFound
	}

	return row, nil
}
