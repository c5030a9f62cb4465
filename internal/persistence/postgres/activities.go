package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"example.com/ridereport/internal/domain"
)

// UpsertActivity stores the raw activity document, overwriting any earlier
// fetch of the same object.
func (r *Repository) UpsertActivity(ctx context.Context, record domain.ActivityRecord) error {
	const stmt = `INSERT INTO activities (object_id, athlete_id, raw, fetched_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (object_id) DO UPDATE SET
            athlete_id = EXCLUDED.athlete_id,
            raw = EXCLUDED.raw,
            fetched_at = EXCLUDED.fetched_at`

	_, err := r.pool.Exec(ctx, stmt, record.ObjectID, record.AthleteID, record.Raw, record.FetchedAt)
	return err
}

// UpsertStreams stores the time-series channels for an activity.
func (r *Repository) UpsertStreams(ctx context.Context, bundle domain.StreamBundle) error {
	payload, err := json.Marshal(bundle.Channels)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO activity_streams (object_id, streams, fetched_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (object_id) DO UPDATE SET
            streams = EXCLUDED.streams,
            fetched_at = EXCLUDED.fetched_at`

	_, err = r.pool.Exec(ctx, stmt, bundle.ObjectID, payload, bundle.FetchedAt)
	return err
}

// GetActivity fetches a cached activity document. Returns (nil, nil) when
// the object has never been fetched.
func (r *Repository) GetActivity(ctx context.Context, objectID int64) (*domain.ActivityRecord, error) {
	const query = `SELECT object_id, athlete_id, raw, fetched_at FROM activities WHERE object_id = $1`

	var record domain.ActivityRecord
	err := r.pool.QueryRow(ctx, query, objectID).Scan(
		&record.ObjectID, &record.AthleteID, &record.Raw, &record.FetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
