package subscription

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// instrumentationName identifies this package's Meter instrumentation scope.
const instrumentationName = "github.com/streamsub/core/subscription"

// Attribute keys recorded on every subscription metric.
const (
	attrStreamKey        = "streamsub.subscription.stream_key"
	attrSubscriptionName = "streamsub.subscription.name"
)

// Metrics instruments Manager and its actors with OpenTelemetry counters
// and histograms. A nil *Metrics is valid and records nothing: NewManager
// accepts nil to disable instrumentation.
type Metrics struct {
	subscribed     metric.Int64Counter
	unsubscribed   metric.Int64Counter
	acked          metric.Int64Counter
	maxCapacityHit metric.Int64Counter
	catchUpBatch   metric.Int64Histogram
	pendingDepth   metric.Int64Histogram
}

// NewMetrics registers the subscription package's instruments against
// provider's Meter.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(instrumentationName)

	subscribed, err := meter.Int64Counter(
		"streamsub.subscription.subscribed",
		metric.WithDescription("Number of successful SubscribeToStream/SubscribeToAllStreams calls."),
	)
	if err != nil {
		return nil, err
	}

	unsubscribed, err := meter.Int64Counter(
		"streamsub.subscription.unsubscribed",
		metric.WithDescription("Number of completed UnsubscribeFromStream calls."),
	)
	if err != nil {
		return nil, err
	}

	acked, err := meter.Int64Counter(
		"streamsub.subscription.acked",
		metric.WithDescription("Number of Ack calls accepted by an actor."),
	)
	if err != nil {
		return nil, err
	}

	maxCapacityHit, err := meter.Int64Counter(
		"streamsub.subscription.max_capacity_hit",
		metric.WithDescription("Number of times a subscription parked in max_capacity."),
	)
	if err != nil {
		return nil, err
	}

	catchUpBatch, err := meter.Int64Histogram(
		"streamsub.subscription.catch_up_batch_size",
		metric.WithDescription("Size of each batch pulled from the Historical Reader during catch-up."),
	)
	if err != nil {
		return nil, err
	}

	pendingDepth, err := meter.Int64Histogram(
		"streamsub.subscription.pending_depth",
		metric.WithDescription("Depth of pending_events observed after each live-notify transition."),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		subscribed:     subscribed,
		unsubscribed:   unsubscribed,
		acked:          acked,
		maxCapacityHit: maxCapacityHit,
		catchUpBatch:   catchUpBatch,
		pendingDepth:   pendingDepth,
	}, nil
}

func (m *Metrics) subscribedAttrs(streamKey, subscriptionName string) metric.MeasurementOption {
	return metric.WithAttributes(
		attrString(attrStreamKey, streamKey),
		attrString(attrSubscriptionName, subscriptionName),
	)
}

func (m *Metrics) subscribe(ctx context.Context, streamKey, subscriptionName string) {
	if m == nil {
		return
	}

	m.subscribed.Add(ctx, 1, m.subscribedAttrs(streamKey, subscriptionName))
}

func (m *Metrics) unsubscribe(ctx context.Context, streamKey, subscriptionName string) {
	if m == nil {
		return
	}

	m.unsubscribed.Add(ctx, 1, m.subscribedAttrs(streamKey, subscriptionName))
}

func (m *Metrics) ack(ctx context.Context, streamKey, subscriptionName string) {
	if m == nil {
		return
	}

	m.acked.Add(ctx, 1, m.subscribedAttrs(streamKey, subscriptionName))
}

func (m *Metrics) maxCapacity(ctx context.Context, streamKey, subscriptionName string) {
	if m == nil {
		return
	}

	m.maxCapacityHit.Add(ctx, 1, m.subscribedAttrs(streamKey, subscriptionName))
}

func (m *Metrics) recordCatchUpBatch(ctx context.Context, streamKey, subscriptionName string, size int) {
	if m == nil {
		return
	}

	m.catchUpBatch.Record(ctx, int64(size), m.subscribedAttrs(streamKey, subscriptionName))
}

func (m *Metrics) recordPendingDepth(ctx context.Context, streamKey, subscriptionName string, depth int) {
	if m == nil {
		return
	}

	m.pendingDepth.Record(ctx, int64(depth), m.subscribedAttrs(streamKey, subscriptionName))
}
