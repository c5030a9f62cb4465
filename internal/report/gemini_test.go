package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/ridereport/internal/domain"
)

func TestBuildRidePromptIncludesMetrics(t *testing.T) {
	activity := domain.ActivityRecord{
		ObjectID: 111,
		Raw: json.RawMessage(`{
			"name": "Morning Ride",
			"distance": 42195.0,
			"moving_time": 5400,
			"total_elevation_gain": 850,
			"average_watts": 215.4,
			"average_heartrate": 152.2,
			"start_date": "2026-03-14T08:00:00Z"
		}`),
	}
	streams := domain.StreamBundle{
		ObjectID: 111,
		Channels: map[string]json.RawMessage{
			"watts":     json.RawMessage(`{}`),
			"heartrate": json.RawMessage(`{}`),
			"time":      json.RawMessage(`{}`),
		},
	}

	prompt := buildRidePrompt(activity, streams)

	require.Contains(t, prompt, "Morning Ride")
	require.Contains(t, prompt, "42.2 km")
	require.Contains(t, prompt, "90 min")
	require.Contains(t, prompt, "Average power: 215 W")
	require.Contains(t, prompt, "Average heart rate: 152 bpm")
	// Channel list is sorted for a stable prompt.
	require.Contains(t, prompt, "heartrate, time, watts")
}

func TestBuildRidePromptOmitsAbsentSensors(t *testing.T) {
	activity := domain.ActivityRecord{
		Raw: json.RawMessage(`{"name":"Recovery Spin","distance":15000,"moving_time":3000}`),
	}

	prompt := buildRidePrompt(activity, domain.StreamBundle{})

	require.NotContains(t, prompt, "Average power")
	require.NotContains(t, prompt, "Average heart rate")
}

func TestBuildProgressPromptWindowsHistory(t *testing.T) {
	history := make([]domain.Report, 0, historyWindow+5)
	for i := 0; i < historyWindow+5; i++ {
		history = append(history, domain.Report{
			Kind:      domain.ReportKindRide,
			ObjectID:  int64(i),
			Content:   fmt.Sprintf("ride-report-%d", i),
			CreatedAt: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
		})
	}

	prompt := buildProgressPrompt(history)

	// Only the most recent window survives; the oldest entries are dropped.
	require.NotContains(t, prompt, "ride-report-0\n")
	require.NotContains(t, prompt, "ride-report-4\n")
	require.Contains(t, prompt, "ride-report-5")
	require.Contains(t, prompt, fmt.Sprintf("ride-report-%d", historyWindow+4))
	require.Equal(t, historyWindow, strings.Count(prompt, "--- Ride "))
}
