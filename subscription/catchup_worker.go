package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/streamsub/core/event"
	"github.com/streamsub/core/historical"
)

// catchUpParams is everything runCatchUpWorker needs to pull, deliver, and
// wait for acks on a historical backlog, independent of the actor that
// spawned it.
type catchUpParams struct {
	streamKey         string
	subscriptionName  string
	reader            historical.Reader
	fromEventNumber   int64
	fromStreamVersion int64
	ackCh             <-chan caughtUpAck
	mailbox           chan<- any
	metrics           *Metrics
}

// runCatchUpWorker implements the pull/chunk/deliver/block-on-ack protocol:
// it reads the unseen backlog one batch at a time, splits each batch into
// correlation chunks, hands each chunk to the actor for delivery, and blocks
// until the actor forwards an ack matching that chunk's cursor before
// pulling the next one. It reports caughtUpMsg once the backlog is
// exhausted (or the stream doesn't exist yet), or workerFailedMsg on any
// protocol violation, which crashes the owning actor; a delivery error is
// instead reported through deliverChunk's return value, since the actor
// that ran it has already crashed itself.
func runCatchUpWorker(ctx context.Context, p catchUpParams) {
	startCursor := p.fromStreamVersion
	if event.IsAllStreams(p.streamKey) {
		startCursor = p.fromEventNumber
	}

	batches, err := p.reader.UnseenEventStream(ctx, p.streamKey, startCursor, historical.DefaultBatchSize)
	if errors.Is(err, historical.ErrStreamNotFound) {
		sendToMailbox(ctx, p.mailbox, caughtUpMsg{eventNumber: p.fromEventNumber, streamVersion: p.fromStreamVersion})
		return
	}

	if err != nil {
		sendToMailbox(ctx, p.mailbox, workerFailedMsg{err: fmt.Errorf("subscription.CatchUpWorker: failed to open historical stream: %w", err)})
		return
	}

	lastEventNumber, lastStreamVersion := p.fromEventNumber, p.fromStreamVersion

	for batch := range batches {
		if batch.Err != nil {
			sendToMailbox(ctx, p.mailbox, workerFailedMsg{err: fmt.Errorf("subscription.CatchUpWorker: historical read failed: %w", batch.Err)})
			return
		}

		p.metrics.recordCatchUpBatch(ctx, p.streamKey, p.subscriptionName, len(batch.Events))

		for _, chunk := range event.Chunk(batch.Events) {
			if len(chunk) == 0 {
				continue
			}

			if !deliverChunk(ctx, p, chunk) {
				return
			}

			last := chunk[len(chunk)-1]
			lastEventNumber, lastStreamVersion = last.EventNumber, last.StreamVersion
			wantCursor := event.Cursor(p.streamKey, last)

			if !awaitAck(ctx, p, wantCursor) {
				return
			}
		}
	}

	sendToMailbox(ctx, p.mailbox, caughtUpMsg{eventNumber: lastEventNumber, streamVersion: lastStreamVersion})
}

// awaitAck blocks until an ack matching wantCursor arrives on p.ackCh. Acks
// strictly behind wantCursor are stale re-deliveries of an earlier ack and
// are ignored; an ack strictly ahead of wantCursor can never legitimately
// happen (the actor only ever forwards acks the worker itself unblocked)
// and is reported as a protocol violation.
func awaitAck(ctx context.Context, p catchUpParams, wantCursor int64) bool {
	for {
		select {
		case <-ctx.Done():
			return false

		case ack, ok := <-p.ackCh:
			if !ok {
				return false
			}

			got := ack.streamVersion
			if event.IsAllStreams(p.streamKey) {
				got = ack.eventNumber
			}

			switch {
			case got < wantCursor:
				continue
			case got == wantCursor:
				return true
			default:
				sendToMailbox(ctx, p.mailbox, workerFailedMsg{
					err: fmt.Errorf("subscription.CatchUpWorker: received ack %d ahead of delivered cursor %d", got, wantCursor),
				})
				return false
			}
		}
	}
}

func sendToMailbox(ctx context.Context, mailbox chan<- any, msg any) {
	select {
	case mailbox <- msg:
	case <-ctx.Done():
	}
}

// deliverChunk hands chunk to the actor's mailbox for delivery instead of
// calling the Subscriber directly, so a running catch-up worker never races
// the actor's own drainPending-triggered deliveries into Subscriber.Events:
// both paths funnel through the same single-writer loop, in mailbox order.
// It reports true only if the actor accepted and delivered the chunk
// without error; on any failure the actor has already crashed itself, so the
// worker just stops without reporting a second, duplicate failure.
func deliverChunk(ctx context.Context, p catchUpParams, chunk []event.Recorded) bool {
	result := make(chan error, 1)

	select {
	case p.mailbox <- workerDeliverMsg{chunk: chunk, result: result}:
	case <-ctx.Done():
		return false
	}

	select {
	case err := <-result:
		return err == nil
	case <-ctx.Done():
		return false
	}
}
