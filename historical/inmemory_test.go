package historical_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamsub/core/event"
	"github.com/streamsub/core/historical"
)

func drain(t *testing.T, ch <-chan historical.Batch) []event.Recorded {
	t.Helper()

	var events []event.Recorded

	for batch := range ch {
		require.NoError(t, batch.Err)
		events = append(events, batch.Events...)
	}

	return events
}

func TestInMemory_UnseenEventStream_SingleStream(t *testing.T) {
	reader := historical.NewInMemory()
	reader.Append(
		event.Recorded{StreamKey: "orders-1", StreamVersion: 1, EventNumber: 1},
		event.Recorded{StreamKey: "orders-1", StreamVersion: 2, EventNumber: 2},
		event.Recorded{StreamKey: "orders-2", StreamVersion: 1, EventNumber: 3},
	)

	ch, err := reader.UnseenEventStream(context.Background(), "orders-1", 0, historical.DefaultBatchSize)
	require.NoError(t, err)

	events := drain(t, ch)
	assert.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].StreamVersion)
	assert.Equal(t, int64(2), events[1].StreamVersion)
}

func TestInMemory_UnseenEventStream_StreamNotFound(t *testing.T) {
	reader := historical.NewInMemory()

	_, err := reader.UnseenEventStream(context.Background(), "orders-404", 0, 10)
	assert.ErrorIs(t, err, historical.ErrStreamNotFound)
}

func TestInMemory_UnseenEventStream_AllStreamsOrdersByEventNumber(t *testing.T) {
	reader := historical.NewInMemory()
	reader.Append(
		event.Recorded{StreamKey: "orders-2", StreamVersion: 1, EventNumber: 2},
		event.Recorded{StreamKey: "orders-1", StreamVersion: 1, EventNumber: 1},
	)

	ch, err := reader.UnseenEventStream(context.Background(), event.AllStreams, 0, 10)
	require.NoError(t, err)

	events := drain(t, ch)
	if assert.Len(t, events, 2) {
		assert.Equal(t, int64(1), events[0].EventNumber)
		assert.Equal(t, int64(2), events[1].EventNumber)
	}
}

func TestInMemory_UnseenEventStream_RespectsBatchSize(t *testing.T) {
	reader := historical.NewInMemory()

	for i := int64(1); i <= 5; i++ {
		reader.Append(event.Recorded{StreamKey: "orders-1", StreamVersion: i, EventNumber: i})
	}

	ch, err := reader.UnseenEventStream(context.Background(), "orders-1", 0, 2)
	require.NoError(t, err)

	var batchSizes []int
	for batch := range ch {
		require.NoError(t, batch.Err)
		batchSizes = append(batchSizes, len(batch.Events))
	}

	assert.Equal(t, []int{2, 2, 1}, batchSizes)
}
