package subscription

// Handle is an opaque reference to a live subscription, returned by
// SubscribeToStream and SubscribeToAllStreams, and consumed by Ack,
// UnsubscribeFromStream, and Subscribed.
type Handle struct {
	StreamKey        string
	SubscriptionName string

	actor *actor
}
