// Package observability holds pipeline watermark gauges shared across
// packages. Per-package counters live next to the code they count; these
// gauges describe end-to-end freshness and are fed from the worker.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityFetchedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ridereport",
		Subsystem: "pipeline",
		Name:      "last_activity_fetched_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity fetched and persisted.",
	})
	reportGeneratedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ridereport",
		Subsystem: "pipeline",
		Name:      "last_report_generated_timestamp_seconds",
		Help:      "Unix timestamp of the most recent report persisted.",
	})
)

func init() {
	prometheus.MustRegister(activityFetchedGauge, reportGeneratedGauge)
}

// RecordActivityFetched updates the fetch watermark gauge.
func RecordActivityFetched(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityFetchedGauge.Set(float64(ts.Unix()))
}

// RecordReportGenerated updates the report watermark gauge.
func RecordReportGenerated(ts time.Time) {
	if ts.IsZero() {
		return
	}
	reportGeneratedGauge.Set(float64(ts.Unix()))
}
