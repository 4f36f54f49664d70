// Package postgres is a historical.Reader implementation targeted to
// PostgreSQL databases, reading from an "events" table the subscription
// core does not own the schema of.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamsub/core/event"
	"github.com/streamsub/core/historical"
)

var _ historical.Reader = Reader{}

// Reader is a historical.Reader implementation querying the "events" table
// directly: one row per appended event, with columns event_id, event_number,
// stream_key, stream_version, event_type, payload, metadata, created_at.
type Reader struct {
	Conn *pgxpool.Pool
}

// UnseenEventStream implements historical.Reader.
func (r Reader) UnseenEventStream(
	ctx context.Context,
	streamKey string,
	lastSeenCursor int64,
	batchSize int,
) (<-chan historical.Batch, error) {
	if batchSize <= 0 {
		batchSize = historical.DefaultBatchSize
	}

	if !event.IsAllStreams(streamKey) {
		var exists bool

		err := r.Conn.QueryRow(
			ctx,
			`SELECT EXISTS(SELECT 1 FROM events WHERE stream_key = $1)`,
			streamKey,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("historical/postgres.Reader: failed to check stream existence: %w", err)
		}

		if !exists {
			return nil, historical.ErrStreamNotFound
		}
	}

	ch := make(chan historical.Batch, 1)

	go r.stream(ctx, ch, streamKey, lastSeenCursor, batchSize)

	return ch, nil
}

func (r Reader) stream(
	ctx context.Context,
	ch chan<- historical.Batch,
	streamKey string,
	lastSeenCursor int64,
	batchSize int,
) {
	defer close(ch)

	cursor := lastSeenCursor

	for {
		page, err := r.fetchPage(ctx, streamKey, cursor, batchSize)
		if err != nil {
			ch <- historical.Batch{Err: err}
			return
		}

		if len(page) == 0 {
			return
		}

		select {
		case <-ctx.Done():
			ch <- historical.Batch{Err: ctx.Err()}
			return
		case ch <- historical.Batch{Events: page}:
		}

		cursor = event.Cursor(streamKey, page[len(page)-1])

		if len(page) < batchSize {
			return
		}
	}
}

func (r Reader) fetchPage(ctx context.Context, streamKey string, cursor int64, batchSize int) ([]event.Recorded, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if event.IsAllStreams(streamKey) {
		rows, err = r.Conn.Query(
			ctx,
			`SELECT event_id, event_number, stream_key, stream_version, event_type, payload, metadata, created_at
			FROM events
			WHERE event_number > $1
			ORDER BY event_number
			LIMIT $2`,
			cursor, batchSize,
		)
	} else {
		rows, err = r.Conn.Query(
			ctx,
			`SELECT event_id, event_number, stream_key, stream_version, event_type, payload, metadata, created_at
			FROM events
			WHERE stream_key = $1 AND stream_version > $2
			ORDER BY stream_version
			LIMIT $3`,
			streamKey, cursor, batchSize,
		)
	}

	if err != nil {
		return nil, fmt.Errorf("historical/postgres.Reader: failed to query events table: %w", err)
	}

	return rowsToEvents(rows)
}

func rowsToEvents(rows pgx.Rows) ([]event.Recorded, error) {
	defer rows.Close()

	var events []event.Recorded

	for rows.Next() {
		var (
			e           event.Recorded
			rawMetadata []byte
		)

		if err := rows.Scan(
			&e.EventID,
			&e.EventNumber,
			&e.StreamKey,
			&e.StreamVersion,
			&e.EventType,
			&e.Payload,
			&rawMetadata,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("historical/postgres.Reader: failed to scan event row: %w", err)
		}

		if len(rawMetadata) > 0 {
			if err := json.Unmarshal(rawMetadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("historical/postgres.Reader: failed to unmarshal event metadata: %w", err)
			}
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("historical/postgres.Reader: error iterating event rows: %w", err)
	}

	return events, nil
}
