//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/ridereport/internal/domain"
)

func newTestRepository(t *testing.T) *Repository {
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("ridereport"),
		postgrescontainer.WithUsername("ridereport"),
		postgrescontainer.WithPassword("ridereport"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	repo := NewRepository(pool)
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo
}

func TestEnqueueDeduplicatesLiveEvents(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	first, err := repo.Enqueue(ctx, 42, 111, "activity", domain.AspectCreate)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, domain.StatusQueued, first.Status)

	// Same object while the first event is still live: rejected.
	_, err = repo.Enqueue(ctx, 42, 111, "activity", domain.AspectUpdate)
	require.ErrorIs(t, err, domain.ErrDuplicateEvent)

	// A different object is unaffected.
	_, err = repo.Enqueue(ctx, 42, 112, "activity", domain.AspectCreate)
	require.NoError(t, err)

	// Once the first event is terminal the object can be enqueued again.
	claimed, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.CompleteEvent(ctx, claimed.ID))

	if claimed.ObjectID == 111 {
		_, err = repo.Enqueue(ctx, 42, 111, "activity", domain.AspectUpdate)
		require.NoError(t, err)
	}
}

func TestClaimNextIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	const events = 10
	for i := 0; i < events; i++ {
		_, err := repo.Enqueue(ctx, 42, int64(1000+i), "activity", domain.AspectCreate)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimedIDs := map[int64]int{}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				event, err := repo.ClaimNext(ctx)
				require.NoError(t, err)
				if event == nil {
					return
				}
				mu.Lock()
				claimedIDs[event.ID]++
				mu.Unlock()
				require.NoError(t, repo.CompleteEvent(ctx, event.ID))
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimedIDs, events)
	for id, count := range claimedIDs {
		require.Equal(t, 1, count, "event %d claimed more than once", id)
	}
}

func TestReleaseForRetryDefersNextAttempt(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.Enqueue(ctx, 42, 111, "activity", domain.AspectCreate)
	require.NoError(t, err)

	event, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, event)

	require.NoError(t, repo.ReleaseForRetry(ctx, event.ID, "upstream 500", time.Hour))

	// Not claimable until the backoff elapses.
	next, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.Nil(t, next)

	stored, err := repo.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusQueued, stored.Status)
	require.Equal(t, 1, stored.Attempts)
	require.Equal(t, "upstream 500", stored.LastError)
}

func TestRotateCredentialIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	now := time.Now().UTC().Truncate(time.Second)
	seed := domain.Credential{
		AthleteID:    42,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Hour),
	}
	require.NoError(t, repo.UpsertCredential(ctx, seed))

	next := domain.Credential{
		AthleteID:    42,
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    now.Add(6 * time.Hour),
	}
	rotated, err := repo.RotateCredential(ctx, "refresh-1", next)
	require.NoError(t, err)
	require.True(t, rotated)

	// The old refresh token no longer matches; a stale writer loses.
	stale := domain.Credential{
		AthleteID:    42,
		AccessToken:  "access-3",
		RefreshToken: "refresh-3",
		ExpiresAt:    now.Add(7 * time.Hour),
	}
	rotated, err = repo.RotateCredential(ctx, "refresh-1", stale)
	require.NoError(t, err)
	require.False(t, rotated)

	stored, err := repo.GetCredential(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "refresh-2", stored.RefreshToken)
	require.Equal(t, "access-2", stored.AccessToken)
}

func TestReapStaleReturnsAbandonedEvents(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.Enqueue(ctx, 42, 111, "activity", domain.AspectCreate)
	require.NoError(t, err)

	event, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, event)

	// A generous threshold reaps nothing; the claim is fresh.
	reclaimed, err := repo.ReapStale(ctx, time.Hour)
	require.NoError(t, err)
	require.Zero(t, reclaimed)

	// A zero threshold treats every processing row as abandoned.
	reclaimed, err = repo.ReapStale(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, reclaimed)

	stored, err := repo.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusQueued, stored.Status)
}

func TestReportRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	created := time.Now().UTC().Truncate(time.Millisecond)
	rep := domain.Report{
		ID:            uuid.NewString(),
		Kind:          domain.ReportKindRide,
		ObjectID:      111,
		Model:         "test-model",
		PromptVersion: "ride_v1",
		Content:       "Strong ride.",
		CreatedAt:     created,
	}
	require.NoError(t, repo.UpsertReport(ctx, rep))

	has, err := repo.HasReport(ctx, domain.ReportKindRide, 111)
	require.NoError(t, err)
	require.True(t, has)

	stale, err := repo.MarkReportsStale(ctx, 111)
	require.NoError(t, err)
	require.Equal(t, 1, stale)

	stored, err := repo.GetReport(ctx, domain.ReportKindRide, 111)
	require.NoError(t, err)
	require.True(t, stored.Stale)

	// Regeneration clears the stale flag.
	require.NoError(t, repo.UpsertReport(ctx, rep))
	stored, err = repo.GetReport(ctx, domain.ReportKindRide, 111)
	require.NoError(t, err)
	require.False(t, stored.Stale)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
