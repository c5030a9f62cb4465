// Package worker drains the event queue: claim one event, fetch its data,
// generate reports, persist, repeat.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/ridereport/internal/domain"
	"example.com/ridereport/internal/notify"
	"example.com/ridereport/internal/observability"
	"example.com/ridereport/internal/report"
	"example.com/ridereport/internal/strava"
)

// Store is the persistence surface the worker needs.
type Store interface {
	ClaimNext(ctx context.Context) (*domain.QueueEvent, error)
	CompleteEvent(ctx context.Context, eventID int64) error
	ReleaseForRetry(ctx context.Context, eventID int64, lastError string, backoff time.Duration) error
	MarkFailed(ctx context.Context, eventID int64, lastError string) error
	ReapStale(ctx context.Context, threshold time.Duration) (int, error)
	CountByStatus(ctx context.Context) (map[domain.EventStatus]int, error)

	UpsertActivity(ctx context.Context, record domain.ActivityRecord) error
	UpsertStreams(ctx context.Context, bundle domain.StreamBundle) error
	UpsertReport(ctx context.Context, rep domain.Report) error
	ListRideReportsChronological(ctx context.Context) ([]domain.Report, error)
	MarkReportsStale(ctx context.Context, objectID int64) (int, error)
}

// ActivityFetcher is the upstream client surface the worker needs.
type ActivityFetcher interface {
	GetActivity(ctx context.Context, cred domain.Credential, objectID int64) (*domain.ActivityRecord, error)
	GetStreams(ctx context.Context, cred domain.Credential, objectID int64, channels []string) (*domain.StreamBundle, error)
}

// TokenResolver supplies valid credentials, refreshing as needed.
type TokenResolver interface {
	Resolve(ctx context.Context, athleteID int64) (*domain.Credential, error)
	ForceRefresh(ctx context.Context, athleteID int64) (*domain.Credential, error)
}

// Config carries the worker tunables, passed in explicitly at construction.
type Config struct {
	PollInterval  time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	ReapThreshold time.Duration
	ReapInterval  time.Duration
}

// Worker is one poll-loop instance. Multiple instances may run against the
// same queue: claim atomicity in the store, not any single-process
// assumption, is what prevents double-processing.
type Worker struct {
	store     Store
	client    ActivityFetcher
	tokens    TokenResolver
	generator report.Generator
	publisher *notify.Publisher
	cfg       Config

	logger           *log.Logger
	shutdownComplete chan struct{}
}

// Option configures optional behaviour for the Worker.
type Option func(*Worker)

// WithLogger overrides the logger used to report processing activity.
func WithLogger(logger *log.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// New constructs a Worker.
func New(store Store, client ActivityFetcher, tokens TokenResolver, generator report.Generator, publisher *notify.Publisher, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		store:            store,
		client:           client,
		tokens:           tokens,
		generator:        generator,
		publisher:        publisher,
		cfg:              cfg,
		logger:           log.New(log.Writer(), "[worker] ", log.LstdFlags),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the polling loop. It should be called in a goroutine and
// returns when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	poll := time.NewTicker(w.cfg.PollInterval)
	reap := time.NewTicker(w.cfg.ReapInterval)
	defer func() {
		poll.Stop()
		reap.Stop()
		close(w.shutdownComplete)
	}()

	for {
		// Drain available work before sleeping again.
		for ctx.Err() == nil {
			claimed, err := w.RunOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Printf("worker cycle error: %v", err)
			}
			if !claimed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-poll.C:
		case <-reap.C:
			w.reap(ctx)
		}
	}
}

// Wait blocks until the loop has stopped.
func (w *Worker) Wait() {
	<-w.shutdownComplete
}

// RunOnce claims and processes at most one event. It reports whether an
// event was claimed so the caller knows if more work may be waiting.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	event, err := w.store.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if event == nil {
		return false, nil
	}

	start := time.Now()
	w.logger.Printf("claimed event %d (athlete=%d, object=%d, aspect=%s, attempt=%d)",
		event.ID, event.AthleteID, event.ObjectID, event.AspectType, event.Attempts+1)

	if err := w.process(ctx, event); err != nil {
		w.fail(ctx, event, err)
		return true, nil
	}

	if err := event.Transition(domain.StatusDone); err != nil {
		return true, err
	}
	if err := w.store.CompleteEvent(ctx, event.ID); err != nil {
		return true, err
	}
	processedCounter.Inc()
	processDuration.Observe(time.Since(start).Seconds())
	w.logger.Printf("event %d done in %s", event.ID, time.Since(start).Round(time.Millisecond))
	return true, nil
}

func (w *Worker) process(ctx context.Context, event *domain.QueueEvent) error {
	// Deletions only invalidate existing artifacts; nothing to fetch.
	if event.AspectType == domain.AspectDelete {
		count, err := w.store.MarkReportsStale(ctx, event.ObjectID)
		if err != nil {
			return err
		}
		if count > 0 {
			w.logger.Printf("marked %d report(s) stale for deleted object %d", count, event.ObjectID)
		}
		return nil
	}

	cred, err := w.tokens.Resolve(ctx, event.AthleteID)
	if err != nil {
		return err
	}

	activity, streams, err := w.fetch(ctx, *cred, event)
	if err != nil {
		return err
	}

	if err := w.store.UpsertActivity(ctx, *activity); err != nil {
		return err
	}
	observability.RecordActivityFetched(activity.FetchedAt)
	if err := w.store.UpsertStreams(ctx, *streams); err != nil {
		return err
	}

	if !domain.RideSportTypes[activity.SportType()] {
		w.logger.Printf("event %d: skipping analysis (sport_type=%s)", event.ID, activity.SportType())
		return nil
	}

	if err := w.generateReports(ctx, event, *activity, *streams); err != nil {
		return err
	}
	return nil
}

// fetch retrieves the activity document and streams. A single unauthorized
// response triggers one forced token refresh and retry; the token may have
// been revoked and re-granted between Resolve and the actual call.
func (w *Worker) fetch(ctx context.Context, cred domain.Credential, event *domain.QueueEvent) (*domain.ActivityRecord, *domain.StreamBundle, error) {
	activity, err := w.client.GetActivity(ctx, cred, event.ObjectID)
	if errors.Is(err, strava.ErrTokenExpired) {
		refreshed, refreshErr := w.tokens.ForceRefresh(ctx, event.AthleteID)
		if refreshErr != nil {
			return nil, nil, refreshErr
		}
		cred = *refreshed
		activity, err = w.client.GetActivity(ctx, cred, event.ObjectID)
	}
	if err != nil {
		if errors.Is(err, strava.ErrNotFound) {
			return nil, nil, domain.Permanent(err)
		}
		return nil, nil, err
	}

	streams, err := w.client.GetStreams(ctx, cred, event.ObjectID, strava.DefaultStreamChannels)
	if err != nil {
		return nil, nil, err
	}
	return activity, streams, nil
}

func (w *Worker) generateReports(ctx context.Context, event *domain.QueueEvent, activity domain.ActivityRecord, streams domain.StreamBundle) error {
	generated, err := w.generator.GenerateRideReport(ctx, activity, streams)
	if err != nil {
		if errors.Is(err, report.ErrContentRejected) {
			return domain.Permanent(err)
		}
		return fmt.Errorf("ride report generation: %w", err)
	}

	rideReport := domain.Report{
		ID:            uuid.NewString(),
		Kind:          domain.ReportKindRide,
		ObjectID:      event.ObjectID,
		Model:         generated.Model,
		PromptVersion: generated.PromptVersion,
		Content:       generated.Content,
		CreatedAt:     generated.CreatedAt,
	}
	if err := w.store.UpsertReport(ctx, rideReport); err != nil {
		return err
	}
	reportsCounter.WithLabelValues(string(domain.ReportKindRide)).Inc()
	observability.RecordReportGenerated(rideReport.CreatedAt)
	w.publisher.ReportGenerated(ctx, notify.ReportGenerated{
		Kind:      string(rideReport.Kind),
		ObjectID:  rideReport.ObjectID,
		AthleteID: event.AthleteID,
		Model:     rideReport.Model,
		CreatedAt: rideReport.CreatedAt,
	})

	// The progress summary is additive; its failure never fails the event,
	// the ride report above is already durable.
	if err := w.generateProgressSummary(ctx, event); err != nil {
		w.logger.Printf("progress summary failed for event %d: %v", event.ID, err)
	}
	return nil
}

func (w *Worker) generateProgressSummary(ctx context.Context, event *domain.QueueEvent) error {
	history, err := w.store.ListRideReportsChronological(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	generated, err := w.generator.GenerateProgressSummary(ctx, history)
	if err != nil {
		return err
	}

	progress := domain.Report{
		ID:            uuid.NewString(),
		Kind:          domain.ReportKindProgress,
		ObjectID:      event.ObjectID,
		Model:         generated.Model,
		PromptVersion: generated.PromptVersion,
		Content:       generated.Content,
		CreatedAt:     generated.CreatedAt,
	}
	if err := w.store.UpsertReport(ctx, progress); err != nil {
		return err
	}
	reportsCounter.WithLabelValues(string(domain.ReportKindProgress)).Inc()
	w.publisher.ReportGenerated(ctx, notify.ReportGenerated{
		Kind:      string(progress.Kind),
		ObjectID:  progress.ObjectID,
		AthleteID: event.AthleteID,
		Model:     progress.Model,
		CreatedAt: progress.CreatedAt,
	})
	return nil
}

// fail routes a processing error to its terminal or retry transition.
// Permanent errors and exhausted budgets fail the event; everything else is
// released back to queued with exponential backoff.
func (w *Worker) fail(ctx context.Context, event *domain.QueueEvent, procErr error) {
	attempt := event.Attempts + 1

	if domain.IsPermanent(procErr) {
		w.markFailed(ctx, event, procErr, attempt)
		return
	}
	if attempt >= w.cfg.MaxAttempts {
		w.markFailed(ctx, event, procErr, attempt)
		return
	}

	if err := event.Transition(domain.StatusQueued); err != nil {
		w.logger.Printf("event %d: %v", event.ID, err)
		return
	}
	backoff := w.backoffDelay(attempt)
	if err := w.store.ReleaseForRetry(ctx, event.ID, procErr.Error(), backoff); err != nil {
		w.logger.Printf("failed to release event %d for retry: %v", event.ID, err)
		return
	}
	retriedCounter.Inc()
	w.logger.Printf("event %d failed (attempt %d/%d), retrying in %s: %v",
		event.ID, attempt, w.cfg.MaxAttempts, backoff, procErr)
}

func (w *Worker) markFailed(ctx context.Context, event *domain.QueueEvent, procErr error, attempt int) {
	if err := event.Transition(domain.StatusFailed); err != nil {
		w.logger.Printf("event %d: %v", event.ID, err)
		return
	}
	if err := w.store.MarkFailed(ctx, event.ID, procErr.Error()); err != nil {
		w.logger.Printf("failed to mark event %d failed: %v", event.ID, err)
		return
	}
	failedCounter.Inc()
	w.logger.Printf("event %d failed permanently after attempt %d: %v", event.ID, attempt, procErr)
}

// backoffDelay calculates exponential backoff capped at the configured limit.
func (w *Worker) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * w.cfg.BackoffBase
	if delay > w.cfg.BackoffCap || delay <= 0 {
		delay = w.cfg.BackoffCap
	}
	return delay
}

// reap reclaims abandoned processing rows and refreshes the status gauges.
func (w *Worker) reap(ctx context.Context) {
	reclaimed, err := w.store.ReapStale(ctx, w.cfg.ReapThreshold)
	if err != nil {
		w.logger.Printf("reaper error: %v", err)
	} else if reclaimed > 0 {
		reapedCounter.Add(float64(reclaimed))
		w.logger.Printf("reclaimed %d stale processing event(s)", reclaimed)
	}

	counts, err := w.store.CountByStatus(ctx)
	if err != nil {
		w.logger.Printf("status count error: %v", err)
		return
	}
	recordQueueDepth(counts)
}
