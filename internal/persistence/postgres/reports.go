package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/ridereport/internal/domain"
	"example.com/ridereport/internal/persistence"
)

// UpsertReport stores a generated report. The (kind, object) key makes
// reprocessing idempotent: a replayed event overwrites the earlier artifact
// instead of appending a second row.
func (r *Repository) UpsertReport(ctx context.Context, report domain.Report) error {
	const stmt = `INSERT INTO reports (id, kind, object_id, model, prompt_version, content, stale, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
        ON CONFLICT (kind, object_id) DO UPDATE SET
            model = EXCLUDED.model,
            prompt_version = EXCLUDED.prompt_version,
            content = EXCLUDED.content,
            stale = FALSE,
            created_at = EXCLUDED.created_at`

	_, err := r.pool.Exec(ctx, stmt,
		report.ID, string(report.Kind), report.ObjectID,
		report.Model, report.PromptVersion, report.Content, report.CreatedAt)
	return err
}

// GetReport fetches one report by (kind, object). Returns (nil, nil) when absent.
func (r *Repository) GetReport(ctx context.Context, kind domain.ReportKind, objectID int64) (*domain.Report, error) {
	const query = `SELECT id, kind, object_id, model, prompt_version, content, stale, created_at
        FROM reports WHERE kind = $1 AND object_id = $2`

	report, err := scanReport(r.pool.QueryRow(ctx, query, string(kind), objectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return report, nil
}

// HasReport reports whether a report of the given kind exists for the object.
func (r *Repository) HasReport(ctx context.Context, kind domain.ReportKind, objectID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reports WHERE kind = $1 AND object_id = $2)`,
		string(kind), objectID).Scan(&exists)
	return exists, err
}

// MarkReportsStale flags every report for the object as stale. Invoked when
// a delete notification arrives; what to do with stale reports is the
// dashboard's decision.
func (r *Repository) MarkReportsStale(ctx context.Context, objectID int64) (int, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE reports SET stale = TRUE WHERE object_id = $1`, objectID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ReportSummary is a listing row: report metadata joined with the cached
// activity document for display fields.
type ReportSummary struct {
	Kind          domain.ReportKind
	ObjectID      int64
	Model         string
	PromptVersion string
	Stale         bool
	CreatedAt     time.Time
	ActivityName  string
	SportType     string
	StartDate     string
}

// ListReports returns report summaries newest first with keyset pagination.
func (r *Repository) ListReports(ctx context.Context, cursor *persistence.ReportCursor, limit int) ([]ReportSummary, *persistence.ReportCursor, error) {
	args := []interface{}{limit}
	query := `SELECT r.kind, r.object_id, r.model, r.prompt_version, r.stale, r.created_at,
            COALESCE(a.raw->>'name', ''), COALESCE(a.raw->>'sport_type', a.raw->>'type', ''), COALESCE(a.raw->>'start_date', '')
        FROM reports r
        LEFT JOIN activities a ON a.object_id = r.object_id`

	if cursor != nil {
		query += ` WHERE (r.created_at, r.kind, r.object_id) < ($2, $3, $4)`
		args = append(args, cursor.CreatedAt, cursor.Kind, cursor.ObjectID)
	}

	query += ` ORDER BY r.created_at DESC, r.kind DESC, r.object_id DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]ReportSummary, 0, limit)
	for rows.Next() {
		var item ReportSummary
		var kind string
		if err := rows.Scan(&kind, &item.ObjectID, &item.Model, &item.PromptVersion, &item.Stale,
			&item.CreatedAt, &item.ActivityName, &item.SportType, &item.StartDate); err != nil {
			return nil, nil, err
		}
		item.Kind = domain.ReportKind(kind)
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *persistence.ReportCursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &persistence.ReportCursor{CreatedAt: last.CreatedAt, Kind: string(last.Kind), ObjectID: last.ObjectID}
	}
	return results, next, nil
}

// ListRideReportsChronological returns every ride report oldest first. The
// progress summarizer feeds on this to describe the athlete's trajectory.
func (r *Repository) ListRideReportsChronological(ctx context.Context) ([]domain.Report, error) {
	const query = `SELECT id, kind, object_id, model, prompt_version, content, stale, created_at
        FROM reports WHERE kind = 'ride' ORDER BY created_at ASC, object_id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *report)
	}
	return results, rows.Err()
}

func scanReport(row pgx.Row) (*domain.Report, error) {
	var report domain.Report
	var kind string
	if err := row.Scan(&report.ID, &kind, &report.ObjectID, &report.Model,
		&report.PromptVersion, &report.Content, &report.Stale, &report.CreatedAt); err != nil {
		return nil, err
	}
	report.Kind = domain.ReportKind(kind)
	return &report, nil
}
