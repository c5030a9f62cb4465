package tokens

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/ridereport/internal/domain"
)

type stubStore struct {
	cred          *domain.Credential
	rotateOK      bool
	rotateCalls   int
	rotated       *domain.Credential
	reauthFlagged bool
}

func (s *stubStore) GetCredential(ctx context.Context, athleteID int64) (*domain.Credential, error) {
	if s.cred == nil {
		return nil, nil
	}
	copied := *s.cred
	return &copied, nil
}

func (s *stubStore) RotateCredential(ctx context.Context, oldRefreshToken string, cred domain.Credential) (bool, error) {
	s.rotateCalls++
	if !s.rotateOK {
		return false, nil
	}
	s.rotated = &cred
	s.cred = &cred
	return true, nil
}

func (s *stubStore) MarkReauthRequired(ctx context.Context, athleteID int64) error {
	s.reauthFlagged = true
	return nil
}

func tokenServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveReturnsFreshCredentialWithoutRefresh(t *testing.T) {
	now := time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC)
	store := &stubStore{cred: &domain.Credential{
		AthleteID:    42,
		AccessToken:  "fresh",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(2 * time.Hour),
	}}
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no refresh expected")
	})

	mgr := NewManager(store, "id", "secret", time.Minute,
		WithTokenURL(srv.URL), WithClock(func() time.Time { return now }))

	cred, err := mgr.Resolve(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "fresh", cred.AccessToken)
	require.Zero(t, store.rotateCalls)
}

func TestResolveRefreshesNearExpiry(t *testing.T) {
	now := time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC)
	store := &stubStore{
		cred: &domain.Credential{
			AthleteID:    42,
			AccessToken:  "stale",
			RefreshToken: "refresh-1",
			ExpiresAt:    now.Add(30 * time.Second),
		},
		rotateOK: true,
	}
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "new-access",
			"refresh_token": "refresh-2",
			"expires_at":    now.Add(6 * time.Hour).Unix(),
		})
	})

	mgr := NewManager(store, "id", "secret", time.Minute,
		WithTokenURL(srv.URL), WithClock(func() time.Time { return now }))

	cred, err := mgr.Resolve(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "new-access", cred.AccessToken)
	require.Equal(t, "refresh-2", cred.RefreshToken)
	require.Equal(t, 1, store.rotateCalls)
	require.NotNil(t, store.rotated)
	require.Equal(t, "refresh-2", store.rotated.RefreshToken)
}

func TestResolveLostRotationRaceReReads(t *testing.T) {
	now := time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC)
	// rotateOK false simulates a concurrent refresher winning the conditional
	// update; the stored credential is the winner's pair.
	store := &stubStore{
		cred: &domain.Credential{
			AthleteID:    42,
			AccessToken:  "winner-access",
			RefreshToken: "winner-refresh",
			ExpiresAt:    now.Add(6 * time.Hour),
		},
		rotateOK: false,
	}
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "loser-access",
			"refresh_token": "loser-refresh",
			"expires_at":    now.Add(5 * time.Hour).Unix(),
		})
	})

	mgr := NewManager(store, "id", "secret", time.Minute,
		WithTokenURL(srv.URL), WithClock(func() time.Time { return now }))

	cred, err := mgr.ForceRefresh(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "winner-access", cred.AccessToken)
	require.Equal(t, "winner-refresh", cred.RefreshToken)
}

func TestResolveRevokedTokenFlagsReauthorization(t *testing.T) {
	now := time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC)
	store := &stubStore{cred: &domain.Credential{
		AthleteID:    42,
		AccessToken:  "stale",
		RefreshToken: "revoked",
		ExpiresAt:    now.Add(-time.Minute),
	}}
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]string{{"field": "refresh_token", "code": "invalid"}},
		})
	})

	mgr := NewManager(store, "id", "secret", time.Minute,
		WithTokenURL(srv.URL), WithClock(func() time.Time { return now }))

	_, err := mgr.Resolve(context.Background(), 42)
	require.ErrorIs(t, err, domain.ErrReauthorizationRequired)
	require.True(t, store.reauthFlagged)
	require.True(t, domain.IsPermanent(err))
}

func TestResolveReauthFlaggedShortCircuits(t *testing.T) {
	store := &stubStore{cred: &domain.Credential{
		AthleteID:      42,
		RefreshToken:   "refresh-1",
		ReauthRequired: true,
	}}
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no refresh expected for flagged credential")
	})

	mgr := NewManager(store, "id", "secret", time.Minute, WithTokenURL(srv.URL))

	_, err := mgr.Resolve(context.Background(), 42)
	require.ErrorIs(t, err, domain.ErrReauthorizationRequired)
}

func TestResolveMissingCredentialIsPermanent(t *testing.T) {
	mgr := NewManager(&stubStore{}, "id", "secret", time.Minute)

	_, err := mgr.Resolve(context.Background(), 42)
	require.ErrorIs(t, err, ErrNoCredential)
	require.True(t, domain.IsPermanent(err))
}

func TestExchangeFallsBackToExpiresIn(t *testing.T) {
	now := time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC)
	store := &stubStore{
		cred: &domain.Credential{
			AthleteID:    42,
			RefreshToken: "refresh-1",
			ExpiresAt:    now.Add(-time.Minute),
		},
		rotateOK: true,
	}
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "new-access",
			"refresh_token": "refresh-2",
			"expires_in":    21600,
		})
	})

	mgr := NewManager(store, "id", "secret", time.Minute,
		WithTokenURL(srv.URL), WithClock(func() time.Time { return now }))

	cred, err := mgr.Resolve(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, now.Add(6*time.Hour), cred.ExpiresAt)
}

func TestRefreshTokenRevokedClassification(t *testing.T) {
	require.True(t, refreshTokenRevoked(http.StatusUnauthorized, nil))
	require.True(t, refreshTokenRevoked(http.StatusBadRequest,
		[]byte(`{"errors":[{"field":"refresh_token","code":"invalid"}]}`)))
	require.False(t, refreshTokenRevoked(http.StatusBadRequest,
		[]byte(`{"errors":[{"field":"client_id","code":"invalid"}]}`)))
	require.False(t, refreshTokenRevoked(http.StatusServiceUnavailable, nil))
}
