package checkpoint_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamsub/core/subscription/checkpoint"
)

const (
	streamKey        = "orders-1"
	subscriptionName = "test-subscription"
)

func TestInMemory_Subscribe_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewInMemory()

	first, err := store.Subscribe(ctx, streamKey, subscriptionName, 10, 2)
	assert.NoError(t, err)
	assert.Equal(t, int64(10), first.LastSeenEventNumber)

	second, err := store.Subscribe(ctx, streamKey, subscriptionName, 999, 999)
	assert.NoError(t, err)
	assert.Equal(t, first, second, "a second Subscribe call must return the existing row untouched")
}

func TestInMemory_Query_NotFound(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewInMemory()

	_, err := store.Query(ctx, streamKey, subscriptionName)
	assert.ErrorIs(t, err, checkpoint.ErrSubscriptionNotFound)
}

func TestInMemory_Ack_AdvancesCursor(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewInMemory()

	_, err := store.Subscribe(ctx, streamKey, subscriptionName, 0, 0)
	assert.NoError(t, err)

	err = store.Ack(ctx, streamKey, subscriptionName, 5, 5)
	assert.NoError(t, err)

	row, err := store.Query(ctx, streamKey, subscriptionName)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), row.LastSeenEventNumber)
	assert.Equal(t, int64(5), row.LastSeenStreamVersion)
}

func TestInMemory_Unsubscribe_AbsentRowIsNotAnError(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewInMemory()

	assert.NoError(t, store.Unsubscribe(ctx, streamKey, subscriptionName))

	_, err := store.Subscribe(ctx, streamKey, subscriptionName, 3, 3)
	assert.NoError(t, err)
	assert.NoError(t, store.Unsubscribe(ctx, streamKey, subscriptionName))

	_, err = store.Query(ctx, streamKey, subscriptionName)
	assert.ErrorIs(t, err, checkpoint.ErrSubscriptionNotFound)
}
