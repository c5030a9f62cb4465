package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"example.com/ridereport/internal/domain"
)

// GetCredential fetches the stored credential for an athlete. Returns
// (nil, nil) when the athlete has never authorized.
func (r *Repository) GetCredential(ctx context.Context, athleteID int64) (*domain.Credential, error) {
	const query = `SELECT athlete_id, access_token, refresh_token, expires_at, reauth_required, created_at, updated_at
        FROM credentials WHERE athlete_id = $1`

	var cred domain.Credential
	err := r.pool.QueryRow(ctx, query, athleteID).Scan(
		&cred.AthleteID, &cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt,
		&cred.ReauthRequired, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

// UpsertCredential stores a credential unconditionally. Used when seeding
// tokens from a completed OAuth authorization, not by the refresh path.
func (r *Repository) UpsertCredential(ctx context.Context, cred domain.Credential) error {
	const stmt = `INSERT INTO credentials (athlete_id, access_token, refresh_token, expires_at, reauth_required)
        VALUES ($1, $2, $3, $4, FALSE)
        ON CONFLICT (athlete_id) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            reauth_required = FALSE,
            updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt, cred.AthleteID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt)
	return err
}

// RotateCredential persists a refreshed token pair only if the stored row
// still carries the refresh token that was exchanged and the new expiry
// moves forward. Returns false when a racing refresher already rotated the
// row; the caller must re-read instead of erroring.
func (r *Repository) RotateCredential(ctx context.Context, oldRefreshToken string, cred domain.Credential) (bool, error) {
	const stmt = `UPDATE credentials
        SET access_token = $2, refresh_token = $3, expires_at = $4, reauth_required = FALSE, updated_at = NOW()
        WHERE athlete_id = $1 AND refresh_token = $5 AND expires_at < $4`

	tag, err := r.pool.Exec(ctx, stmt, cred.AthleteID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, oldRefreshToken)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkReauthRequired flags the athlete as needing a fresh OAuth grant.
// Set when the upstream authority reports the refresh token itself revoked.
func (r *Repository) MarkReauthRequired(ctx context.Context, athleteID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE credentials SET reauth_required = TRUE, updated_at = NOW() WHERE athlete_id = $1`,
		athleteID)
	return err
}
