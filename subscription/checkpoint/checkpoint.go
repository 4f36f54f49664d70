// Package checkpoint persists the durable cursor a subscription resumes
// from: one row per (stream_key, subscription_name) pair, tracking the last
// event the subscription has acknowledged.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// ErrSubscriptionNotFound is returned by Query when no checkpoint row exists
// for the given (streamKey, subscriptionName) pair.
var ErrSubscriptionNotFound = errors.New("checkpoint: subscription not found")

// Row is a durable checkpoint row.
//
// LastSeenEventNumber and LastSeenStreamVersion are both overwritten on
// every Ack; which one a subscription actually acks
// against depends on whether it targets a single stream or all streams,
// see event.Cursor.
type Row struct {
	StreamKey             string
	SubscriptionName      string
	LastSeenEventNumber   int64
	LastSeenStreamVersion int64
	CreatedAt             time.Time
}

// Store is the durable checkpoint backend a Manager uses to track where
// every live subscription has gotten to.
//
// Implementations must make Subscribe idempotent: calling it twice with the
// same (streamKey, subscriptionName) must return the same row rather than
// erroring, so that an actor restarting after a crash can resume from the
// existing checkpoint instead of losing its place.
type Store interface {
	// Subscribe creates a checkpoint row starting from the given cursor
	// values, or returns the existing row if one is already present.
	Subscribe(ctx context.Context, streamKey, subscriptionName string, startFromEventNumber, startFromStreamVersion int64) (Row, error)

	// Ack unconditionally overwrites the checkpoint's cursor fields. It is
	// safe to call with a cursor behind the stored one: callers are
	// expected to have already validated ack ordering before calling this.
	Ack(ctx context.Context, streamKey, subscriptionName string, eventNumber, streamVersion int64) error

	// Unsubscribe deletes the checkpoint row. Deleting an absent row is not
	// an error.
	Unsubscribe(ctx context.Context, streamKey, subscriptionName string) error

	// Query returns the current checkpoint row, or ErrSubscriptionNotFound
	// if none exists.
	Query(ctx context.Context, streamKey, subscriptionName string) (Row, error)
}
