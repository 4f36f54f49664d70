package subscription

import "context"

// Subscriber receives batches of events in strictly monotonic cursor order.
// Each element of batch is an event.Recorded, or the output of Options.Mapper
// if one was supplied. The subscriber must respond by calling Manager.Ack
// with a cursor no later than the last event in the batch: Events is not
// itself an acknowledgement.
type Subscriber interface {
	Events(ctx context.Context, batch []any) error
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, batch []any) error

// Events implements Subscriber.
func (f SubscriberFunc) Events(ctx context.Context, batch []any) error { return f(ctx, batch) }
