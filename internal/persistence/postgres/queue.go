package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/ridereport/internal/domain"
)

const eventColumns = `id, athlete_id, object_id, object_type, aspect_type, status, attempts, last_error, next_attempt_at, created_at, updated_at`

// Enqueue inserts a new queued event unless a non-terminal event already
// exists for the same (athlete, object) pair. The dedup check and insert are
// a single statement backed by the partial unique index, so concurrent
// duplicate deliveries cannot both succeed. Returns domain.ErrDuplicateEvent
// on the no-op path.
func (r *Repository) Enqueue(ctx context.Context, athleteID, objectID int64, objectType string, aspect domain.AspectType) (*domain.QueueEvent, error) {
	const stmt = `INSERT INTO queue_events (athlete_id, object_id, object_type, aspect_type)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (athlete_id, object_id) WHERE status IN ('queued', 'processing') DO NOTHING
        RETURNING ` + eventColumns

	row := r.pool.QueryRow(ctx, stmt, athleteID, objectID, objectType, string(aspect))
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDuplicateEvent
		}
		return nil, err
	}
	return event, nil
}

// ClaimNext atomically moves at most one claimable row from queued to
// processing and returns it. The sub-select uses FOR UPDATE SKIP LOCKED so
// concurrent claimants never block on or double-claim the same row; the
// outer status guard makes the transition conditional rather than
// read-then-write. Returns (nil, nil) when no work is claimable.
func (r *Repository) ClaimNext(ctx context.Context) (*domain.QueueEvent, error) {
	const stmt = `UPDATE queue_events
        SET status = 'processing', updated_at = NOW()
        WHERE id = (
            SELECT id FROM queue_events
            WHERE status = 'queued' AND next_attempt_at <= NOW()
            ORDER BY id
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        ) AND status = 'queued'
        RETURNING ` + eventColumns

	row := r.pool.QueryRow(ctx, stmt)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

// CompleteEvent transitions a processing event to done.
func (r *Repository) CompleteEvent(ctx context.Context, eventID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE queue_events SET status = 'done', attempts = attempts + 1, updated_at = NOW()
         WHERE id = $1 AND status = 'processing'`, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %d is no longer processing", eventID)
	}
	return nil
}

// ReleaseForRetry moves a processing event back to queued with an applied
// backoff delay, recording the failure for inspection.
func (r *Repository) ReleaseForRetry(ctx context.Context, eventID int64, lastError string, backoff time.Duration) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE queue_events
         SET status = 'queued', attempts = attempts + 1, last_error = $2,
             next_attempt_at = NOW() + $3::interval, updated_at = NOW()
         WHERE id = $1 AND status = 'processing'`,
		eventID, lastError, backoff)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %d is no longer processing", eventID)
	}
	return nil
}

// MarkFailed transitions a processing event to its terminal failed state.
// Failed rows are kept for operator inspection and manual re-enqueue.
func (r *Repository) MarkFailed(ctx context.Context, eventID int64, lastError string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE queue_events
         SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
         WHERE id = $1 AND status = 'processing'`,
		eventID, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %d is no longer processing", eventID)
	}
	return nil
}

// ReapStale requeues processing rows whose last update is older than the
// threshold. Covers workers that crashed mid-fetch and never released their
// claim. Returns the number of reclaimed rows.
func (r *Repository) ReapStale(ctx context.Context, threshold time.Duration) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE queue_events
         SET status = 'queued', updated_at = NOW()
         WHERE status = 'processing' AND updated_at < NOW() - $1::interval`,
		threshold)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// RequeueProcessing unconditionally returns every processing row to queued.
// Invoked from the backfill trigger so a wedged worker never strands work.
func (r *Repository) RequeueProcessing(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE queue_events SET status = 'queued', updated_at = NOW() WHERE status = 'processing'`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// HasNonTerminalEvent reports whether a queued or processing event exists
// for the (athlete, object) pair.
func (r *Repository) HasNonTerminalEvent(ctx context.Context, athleteID, objectID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
            SELECT 1 FROM queue_events
            WHERE athlete_id = $1 AND object_id = $2 AND status IN ('queued', 'processing')
        )`, athleteID, objectID).Scan(&exists)
	return exists, err
}

// GetEvent fetches one event by ID. Returns (nil, nil) when absent.
func (r *Repository) GetEvent(ctx context.Context, eventID int64) (*domain.QueueEvent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM queue_events WHERE id = $1`, eventID)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

// CountByStatus returns the number of events per status, used by the worker
// heartbeat and the operator API.
func (r *Repository) CountByStatus(ctx context.Context) (map[domain.EventStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM queue_events GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.EventStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[domain.EventStatus(status)] = count
	}
	return counts, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.QueueEvent, error) {
	var ev domain.QueueEvent
	var status, aspect string
	if err := row.Scan(&ev.ID, &ev.AthleteID, &ev.ObjectID, &ev.ObjectType, &aspect, &status,
		&ev.Attempts, &ev.LastError, &ev.NextAttemptAt, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return nil, err
	}
	ev.Status = domain.EventStatus(status)
	ev.AspectType = domain.AspectType(aspect)
	return &ev, nil
}
