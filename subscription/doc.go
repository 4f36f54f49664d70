// Package subscription is the subscription core: durable, at-least-once
// delivery of previously appended and newly published events to
// subscribers, backed by a checkpoint store, a historical reader, and a
// broadcast bus.
//
// Manager is the composition root: it wires those three collaborators and
// exposes SubscribeToStream, SubscribeToAllStreams, Ack,
// UnsubscribeFromStream, and Subscribed. Each live subscription is owned by
// its own actor, a goroutine serializing every state transition of the
// subscription's fsm.Machine over a single mailbox channel.
package subscription
