// Package backfill reconciles the upstream activity history against the
// queue, enqueueing anything not yet processed.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log"

	"example.com/ridereport/internal/domain"
	"example.com/ridereport/internal/strava"
)

// Queue is the persistence surface the reconciler needs.
type Queue interface {
	Enqueue(ctx context.Context, athleteID, objectID int64, objectType string, aspect domain.AspectType) (*domain.QueueEvent, error)
	HasNonTerminalEvent(ctx context.Context, athleteID, objectID int64) (bool, error)
	HasReport(ctx context.Context, kind domain.ReportKind, objectID int64) (bool, error)
}

// Lister pages through the upstream activity history.
type Lister interface {
	ListActivities(ctx context.Context, cred domain.Credential, page, perPage int) ([]strava.ActivitySummary, int, error)
}

// TokenResolver supplies a valid credential for the account.
type TokenResolver interface {
	Resolve(ctx context.Context, athleteID int64) (*domain.Credential, error)
}

// Result reports what one reconciliation pass did.
type Result struct {
	Queued       int `json:"queued"`
	Skipped      int `json:"skipped"`
	TotalFetched int `json:"total_fetched"`
}

// Reconciler walks the full activity history and enqueues unprocessed rides.
// Running it twice with no upstream changes queues nothing the second time:
// an existing report or a non-terminal queue event both count as processed,
// so the reconciler always agrees with the live queue.
type Reconciler struct {
	queue    Queue
	client   Lister
	tokens   TokenResolver
	pageSize int
	maxPages int
	logger   *log.Logger
}

// Option configures optional behaviour for the Reconciler.
type Option func(*Reconciler)

// WithLogger overrides the logger used to report progress.
func WithLogger(logger *log.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// NewReconciler constructs a Reconciler.
func NewReconciler(queue Queue, client Lister, tokens TokenResolver, pageSize, maxPages int, opts ...Option) *Reconciler {
	r := &Reconciler{
		queue:    queue,
		client:   client,
		tokens:   tokens,
		pageSize: pageSize,
		maxPages: maxPages,
		logger:   log.New(log.Writer(), "[backfill] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run walks every page of the athlete's history. On an expired page position
// it restarts once from page one rather than silently truncating.
func (r *Reconciler) Run(ctx context.Context, athleteID int64) (Result, error) {
	cred, err := r.tokens.Resolve(ctx, athleteID)
	if err != nil {
		return Result{}, err
	}

	result, err := r.walk(ctx, athleteID, *cred)
	if err != nil && errors.Is(err, strava.ErrPageExpired) {
		r.logger.Printf("pagination expired for athlete %d, restarting from page 1", athleteID)
		result, err = r.walk(ctx, athleteID, *cred)
	}
	if err != nil {
		return Result{}, err
	}

	runsCounter.Inc()
	queuedCounter.Add(float64(result.Queued))
	r.logger.Printf("backfill complete for athlete %d: queued=%d skipped=%d total_fetched=%d",
		athleteID, result.Queued, result.Skipped, result.TotalFetched)
	return result, nil
}

func (r *Reconciler) walk(ctx context.Context, athleteID int64, cred domain.Credential) (Result, error) {
	var result Result

	page := 1
	for fetched := 0; fetched < r.maxPages; fetched++ {
		activities, nextPage, err := r.client.ListActivities(ctx, cred, page, r.pageSize)
		if err != nil {
			return Result{}, fmt.Errorf("listing page %d: %w", page, err)
		}

		for _, activity := range activities {
			result.TotalFetched++

			processed, err := r.alreadyProcessed(ctx, athleteID, activity)
			if err != nil {
				return Result{}, err
			}
			if processed {
				result.Skipped++
				continue
			}

			if _, err := r.queue.Enqueue(ctx, athleteID, activity.ID, "activity", domain.AspectCreate); err != nil {
				if errors.Is(err, domain.ErrDuplicateEvent) {
					// Lost a race with a live webhook delivery; same outcome.
					result.Skipped++
					continue
				}
				return Result{}, err
			}
			result.Queued++
		}

		if nextPage == 0 {
			break
		}
		page = nextPage
	}
	return result, nil
}

// alreadyProcessed applies the skip rules: non-ride sport types never get
// reports, and an existing report or live queue event means work is done or
// underway.
func (r *Reconciler) alreadyProcessed(ctx context.Context, athleteID int64, activity strava.ActivitySummary) (bool, error) {
	if !domain.RideSportTypes[activity.Sport()] {
		return true, nil
	}
	hasReport, err := r.queue.HasReport(ctx, domain.ReportKindRide, activity.ID)
	if err != nil {
		return false, err
	}
	if hasReport {
		return true, nil
	}
	pending, err := r.queue.HasNonTerminalEvent(ctx, athleteID, activity.ID)
	if err != nil {
		return false, err
	}
	return pending, nil
}
