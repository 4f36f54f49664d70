package subscription

import (
	"errors"

	"github.com/streamsub/core/historical"
	"github.com/streamsub/core/subscription/checkpoint"
	"github.com/streamsub/core/subscription/fsm"
)

// ErrSubscriptionAlreadyExists is returned by SubscribeToStream and
// SubscribeToAllStreams when an actor is already registered and alive for
// the given (streamKey, subscriptionName) pair. This is distinct from the
// underlying checkpoint.Store, whose Subscribe operation is idempotent at
// the row level: two actors still cannot both own the same live
// subscription concurrently.
var ErrSubscriptionAlreadyExists = errors.New("subscription: already exists")

// ErrSubscriptionNotFound is returned when no checkpoint row backs the
// requested (streamKey, subscriptionName) pair.
var ErrSubscriptionNotFound = checkpoint.ErrSubscriptionNotFound

// ErrStreamNotFound is returned by the Historical Reader when a
// single-stream target has no backing rows. It never reaches a caller of
// this package directly: the catch-up worker treats it as an empty
// sequence.
var ErrStreamNotFound = historical.ErrStreamNotFound

// ErrWrongAck is a protocol violation: an ack that moves the subscription's
// durable cursor backward, or past what it has seen, crashes the owning
// actor.
var ErrWrongAck = fsm.ErrWrongAck

// ErrActorCrashed is returned by Ack when the addressed actor has already
// stopped (crashed, or its linked context was cancelled).
var ErrActorCrashed = errors.New("subscription: actor is no longer running")
