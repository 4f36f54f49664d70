// Package postgres is a checkpoint.Store implementation targeted to
// PostgreSQL databases.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamsub/core/subscription/checkpoint"
)

// uniqueViolation is the SQLSTATE code Postgres returns when a unique
// constraint is violated.
const uniqueViolation = "23505"

var _ checkpoint.Store = Store{}

// Store is a checkpoint.Store implementation backed by the
// subscription_checkpoints table.
//
// Run RunMigrations once before constructing a Store, to ensure the
// operational table exists.
type Store struct {
	Conn *pgxpool.Pool
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Subscribe implements checkpoint.Store.
func (s Store) Subscribe(
	ctx context.Context,
	streamKey, subscriptionName string,
	startFromEventNumber, startFromStreamVersion int64,
) (checkpoint.Row, error) {
	_, err := s.Conn.Exec(
		ctx,
		`INSERT INTO subscription_checkpoints
			(stream_key, subscription_name, last_seen_event_number, last_seen_stream_version)
		VALUES ($1, $2, $3, $4)`,
		streamKey, subscriptionName, startFromEventNumber, startFromStreamVersion,
	)

	if err != nil && !isUniqueViolation(err) {
		return checkpoint.Row{}, fmt.Errorf("checkpoint/postgres.Store: failed to insert checkpoint row: %w", err)
	}

	// Either we just inserted the row, or another caller beat us to it:
	// either way, read back whatever is durably stored.
	row, err := s.Query(ctx, streamKey, subscriptionName)
	if err != nil {
		return checkpoint.Row{}, fmt.Errorf("checkpoint/postgres.Store: failed to read back checkpoint row: %w", err)
	}

	return row, nil
}

// Ack implements checkpoint.Store.
func (s Store) Ack(ctx context.Context, streamKey, subscriptionName string, eventNumber, streamVersion int64) error {
	_, err := s.Conn.Exec(
		ctx,
		`UPDATE subscription_checkpoints
		SET last_seen_event_number = $3, last_seen_stream_version = $4
		WHERE stream_key = $1 AND subscription_name = $2`,
		streamKey, subscriptionName, eventNumber, streamVersion,
	)
	if err != nil {
		return fmt.Errorf("checkpoint/postgres.Store: failed to update checkpoint row: %w", err)
	}

	return nil
}

// Unsubscribe implements checkpoint.Store.
func (s Store) Unsubscribe(ctx context.Context, streamKey, subscriptionName string) error {
	_, err := s.Conn.Exec(
		ctx,
		`DELETE FROM subscription_checkpoints WHERE stream_key = $1 AND subscription_name = $2`,
		streamKey, subscriptionName,
	)
	if err != nil {
		return fmt.Errorf("checkpoint/postgres.Store: failed to delete checkpoint row: %w", err)
	}

	return nil
}

// Query implements checkpoint.Store.
func (s Store) Query(ctx context.Context, streamKey, subscriptionName string) (checkpoint.Row, error) {
	row := s.Conn.QueryRow(
		ctx,
		`SELECT stream_key, subscription_name, last_seen_event_number, last_seen_stream_version, created_at
		FROM subscription_checkpoints
		WHERE stream_key = $1 AND subscription_name = $2`,
		streamKey, subscriptionName,
	)

	var r checkpoint.Row

	if err := row.Scan(
		&r.StreamKey,
		&r.SubscriptionName,
		&r.LastSeenEventNumber,
		&r.LastSeenStreamVersion,
		&r.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return checkpoint.Row{}, checkpoint.ErrSubscriptionNotFound
		}

		return checkpoint.Row{}, fmt.Errorf("checkpoint/postgres.Store: failed to scan checkpoint row: %w", err)
	}

	return r, nil
}
