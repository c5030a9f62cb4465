package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActivityRecord caches the raw activity document fetched from upstream.
// A later re-fetch (backfill of an updated activity) overwrites it.
type ActivityRecord struct {
	ObjectID  int64
	AthleteID int64
	Raw       json.RawMessage
	FetchedAt time.Time
}

// SportType extracts the sport type from the raw document, preferring the
// newer sport_type field over the legacy type field.
func (a ActivityRecord) SportType() string {
	var doc struct {
		SportType string `json:"sport_type"`
		Type      string `json:"type"`
	}
	if err := json.Unmarshal(a.Raw, &doc); err != nil {
		return ""
	}
	if doc.SportType != "" {
		return doc.SportType
	}
	return doc.Type
}

// Name extracts the activity title from the raw document.
func (a ActivityRecord) Name() string {
	var doc struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(a.Raw, &doc); err != nil {
		return ""
	}
	return doc.Name
}

// StreamBundle carries the time-series channels for one activity, keyed by
// channel name (watts, heartrate, cadence, ...). Missing channels are
// expected; they reduce analysis richness but never abort the pipeline.
type StreamBundle struct {
	ObjectID  int64
	Channels  map[string]json.RawMessage
	FetchedAt time.Time
}

// Has reports whether the named channel is present.
func (s StreamBundle) Has(channel string) bool {
	_, ok := s.Channels[channel]
	return ok
}

// ReportKind distinguishes per-ride analyses from rolling progress summaries.
type ReportKind string

const (
	ReportKindRide     ReportKind = "ride"
	ReportKindProgress ReportKind = "progress"
)

// ParseReportKind validates a kind supplied over the API.
func ParseReportKind(value string) (ReportKind, error) {
	switch ReportKind(value) {
	case ReportKindRide, ReportKindProgress:
		return ReportKind(value), nil
	default:
		return "", fmt.Errorf("invalid report kind %q (expected 'ride' or 'progress')", value)
	}
}

// Report is a generated analysis artifact. At most one row exists per
// (kind, object) pair; regeneration overwrites in place.
type Report struct {
	ID            string
	Kind          ReportKind
	ObjectID      int64
	Model         string
	PromptVersion string
	Content       string
	Stale         bool
	CreatedAt     time.Time
}
