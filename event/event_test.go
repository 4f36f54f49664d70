package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamsub/core/event"
)

func withCorrelation(streamKey, correlationID string, eventNumber int64) event.Recorded {
	return event.Recorded{
		StreamKey:   streamKey,
		EventNumber: eventNumber,
		Metadata:    event.Metadata{event.CorrelationIDKey: correlationID},
	}
}

func TestChunk(t *testing.T) {
	t.Run("empty input yields no chunks", func(t *testing.T) {
		assert.Nil(t, event.Chunk(nil))
	})

	t.Run("single run stays in one chunk", func(t *testing.T) {
		events := []event.Recorded{
			withCorrelation("orders-1", "corr-a", 1),
			withCorrelation("orders-1", "corr-a", 2),
			withCorrelation("orders-1", "corr-a", 3),
		}

		chunks := event.Chunk(events)

		assert.Len(t, chunks, 1)
		assert.Len(t, chunks[0], 3)
	})

	t.Run("change in correlation id starts a new chunk", func(t *testing.T) {
		events := []event.Recorded{
			withCorrelation("orders-1", "corr-a", 1),
			withCorrelation("orders-1", "corr-b", 2),
			withCorrelation("orders-1", "corr-b", 3),
		}

		chunks := event.Chunk(events)

		if assert.Len(t, chunks, 2) {
			assert.Len(t, chunks[0], 1)
			assert.Len(t, chunks[1], 2)
		}
	})

	t.Run("change in stream key starts a new chunk even with same correlation id", func(t *testing.T) {
		events := []event.Recorded{
			withCorrelation("orders-1", "corr-a", 1),
			withCorrelation("orders-2", "corr-a", 1),
		}

		chunks := event.Chunk(events)

		assert.Len(t, chunks, 2)
	})
}

func TestCursor(t *testing.T) {
	e := event.Recorded{EventNumber: 42, StreamVersion: 7}

	assert.Equal(t, int64(42), event.Cursor(event.AllStreams, e))
	assert.Equal(t, int64(7), event.Cursor("orders-1", e))
}
