// Package api exposes the webhook receiver and the management HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/ridereport/internal/auth"
	"example.com/ridereport/internal/backfill"
	"example.com/ridereport/internal/domain"
	"example.com/ridereport/internal/persistence"
	"example.com/ridereport/internal/persistence/postgres"
)

// Store is the persistence surface the handlers need.
type Store interface {
	Enqueue(ctx context.Context, athleteID, objectID int64, objectType string, aspect domain.AspectType) (*domain.QueueEvent, error)
	RequeueProcessing(ctx context.Context) (int, error)
	ListReports(ctx context.Context, cursor *persistence.ReportCursor, limit int) ([]postgres.ReportSummary, *persistence.ReportCursor, error)
	GetReport(ctx context.Context, kind domain.ReportKind, objectID int64) (*domain.Report, error)
}

// Backfiller runs one reconciliation pass for an athlete.
type Backfiller interface {
	Run(ctx context.Context, athleteID int64) (backfill.Result, error)
}

// Handler coordinates HTTP requests with the queue and report storage.
type Handler struct {
	store       Store
	backfiller  Backfiller
	verifyToken string
	logger      *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(store Store, backfiller Backfiller, verifyToken string) *Handler {
	return &Handler{
		store:       store,
		backfiller:  backfiller,
		verifyToken: verifyToken,
		logger:      log.New(log.Writer(), "[api] ", log.LstdFlags),
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/strava/webhook", h.webhook)
	mux.HandleFunc("/api/backfill", h.runBackfill)
	mux.HandleFunc("/api/reports", h.listReports)
	mux.HandleFunc("/api/reports/", h.reportByKey)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verifySubscription(w, r)
	case http.MethodPost:
		h.receiveEvent(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// verifySubscription answers the subscription handshake: echo the challenge
// when the verify token matches, reject otherwise.
func (h *Handler) verifySubscription(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		h.logger.Printf("rejected subscription verification (mode=%q)", mode)
		writeError(w, http.StatusForbidden, "forbidden", "verification failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

// WebhookEvent is the push notification payload.
type WebhookEvent struct {
	ObjectType     string                 `json:"object_type"`
	ObjectID       int64                  `json:"object_id"`
	AspectType     string                 `json:"aspect_type"`
	OwnerID        int64                  `json:"owner_id"`
	SubscriptionID int64                  `json:"subscription_id"`
	Updates        map[string]interface{} `json:"updates"`
}

// Validate ensures the delivery carries the fields the queue needs.
func (e WebhookEvent) Validate() error {
	if e.ObjectID <= 0 {
		return errors.New("object_id is required")
	}
	if e.OwnerID <= 0 {
		return errors.New("owner_id is required")
	}
	if _, err := domain.ParseAspectType(e.AspectType); err != nil {
		return err
	}
	return nil
}

// receiveEvent acknowledges a delivery after durably enqueueing it. All the
// expensive work happens later in the worker; the sender only needs a fast
// 200 to not retry or drop the subscription.
func (h *Handler) receiveEvent(w http.ResponseWriter, r *http.Request) {
	var event WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		webhookCounter.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := event.Validate(); err != nil {
		webhookCounter.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	// Athlete object notifications (deauthorization) carry no activity to
	// process; acknowledge and move on.
	if event.ObjectType != "activity" {
		webhookCounter.WithLabelValues("skipped").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
		return
	}

	aspect, _ := domain.ParseAspectType(event.AspectType)
	queued, err := h.store.Enqueue(r.Context(), event.OwnerID, event.ObjectID, event.ObjectType, aspect)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			webhookCounter.WithLabelValues("duplicate").Inc()
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
		webhookCounter.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	webhookCounter.WithLabelValues("queued").Inc()
	h.logger.Printf("queued event %d (athlete=%d, object=%d, aspect=%s)",
		queued.ID, queued.AthleteID, queued.ObjectID, queued.AspectType)
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// BackfillRequest is the payload for POST /api/backfill.
type BackfillRequest struct {
	AthleteID int64 `json:"athlete_id"`
}

func (h *Handler) runBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeBackfillRun) {
		writeError(w, http.StatusForbidden, "forbidden", "scope backfill:run required")
		return
	}

	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.AthleteID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "athlete_id is required")
		return
	}

	// Reset rows abandoned mid-flight by a crashed worker so the pass below
	// sees them as queued instead of skipping them as in-progress forever.
	requeued, err := h.store.RequeueProcessing(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if requeued > 0 {
		h.logger.Printf("requeued %d stuck processing event(s) before backfill", requeued)
	}

	result, err := h.backfiller.Run(r.Context(), req.AthleteID)
	if err != nil {
		if errors.Is(err, domain.ErrReauthorizationRequired) {
			writeError(w, http.StatusConflict, "reauthorization_required", "athlete must reauthorize the application")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeReportsRead) {
		writeError(w, http.StatusForbidden, "forbidden", "scope reports:read required")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeReportCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	summaries, next, err := h.store.ListReports(r.Context(), cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ReportSummaryView, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, toSummaryView(summary))
	}
	writeJSON(w, http.StatusOK, ListReportsResponse{
		Items:      items,
		NextCursor: persistence.EncodeReportCursor(next),
	})
}

func (h *Handler) reportByKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeReportsRead) {
		writeError(w, http.StatusForbidden, "forbidden", "scope reports:read required")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		writeError(w, http.StatusBadRequest, "invalid_request", "expected /api/reports/{kind}/{object_id}")
		return
	}
	kind, err := domain.ParseReportKind(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	objectID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || objectID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid object id")
		return
	}

	report, err := h.store.GetReport(r.Context(), kind, objectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "not_found", "report not found")
		return
	}
	writeJSON(w, http.StatusOK, toReportView(*report))
}

// ReportSummaryView is one row of the report listing.
type ReportSummaryView struct {
	Kind          string    `json:"kind"`
	ObjectID      int64     `json:"object_id"`
	Model         string    `json:"model"`
	PromptVersion string    `json:"prompt_version"`
	Stale         bool      `json:"stale"`
	CreatedAt     time.Time `json:"created_at"`
	ActivityName  string    `json:"activity_name,omitempty"`
	SportType     string    `json:"sport_type,omitempty"`
	StartDate     string    `json:"start_date,omitempty"`
}

// ListReportsResponse packages list results.
type ListReportsResponse struct {
	Items      []ReportSummaryView `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// ReportView exposes the full report including its content.
type ReportView struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	ObjectID      int64     `json:"object_id"`
	Model         string    `json:"model"`
	PromptVersion string    `json:"prompt_version"`
	Content       string    `json:"content"`
	Stale         bool      `json:"stale"`
	CreatedAt     time.Time `json:"created_at"`
}

func toSummaryView(summary postgres.ReportSummary) ReportSummaryView {
	return ReportSummaryView{
		Kind:          string(summary.Kind),
		ObjectID:      summary.ObjectID,
		Model:         summary.Model,
		PromptVersion: summary.PromptVersion,
		Stale:         summary.Stale,
		CreatedAt:     summary.CreatedAt,
		ActivityName:  summary.ActivityName,
		SportType:     summary.SportType,
		StartDate:     summary.StartDate,
	}
}

func toReportView(report domain.Report) ReportView {
	return ReportView{
		ID:            report.ID,
		Kind:          string(report.Kind),
		ObjectID:      report.ObjectID,
		Model:         report.Model,
		PromptVersion: report.PromptVersion,
		Content:       report.Content,
		Stale:         report.Stale,
		CreatedAt:     report.CreatedAt,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
