package worker

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/ridereport/internal/domain"
)

var (
	processedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridereport",
		Subsystem: "worker",
		Name:      "events_processed_total",
		Help:      "Number of queue events processed to completion.",
	})

	retriedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridereport",
		Subsystem: "worker",
		Name:      "events_retried_total",
		Help:      "Number of queue events released back for retry.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridereport",
		Subsystem: "worker",
		Name:      "events_failed_total",
		Help:      "Number of queue events marked failed permanently.",
	})

	reapedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridereport",
		Subsystem: "worker",
		Name:      "events_reaped_total",
		Help:      "Number of stale processing events returned to the queue.",
	})

	reportsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridereport",
		Subsystem: "worker",
		Name:      "reports_generated_total",
		Help:      "Number of reports generated, by kind.",
	}, []string{"kind"})

	processDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ridereport",
		Subsystem: "worker",
		Name:      "event_duration_seconds",
		Help:      "Time spent processing a single queue event.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	queueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ridereport",
		Subsystem: "worker",
		Name:      "queue_depth",
		Help:      "Number of queue events by status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(
		processedCounter,
		retriedCounter,
		failedCounter,
		reapedCounter,
		reportsCounter,
		processDuration,
		queueDepthGauge,
	)
}

func recordQueueDepth(counts map[domain.EventStatus]int) {
	for _, status := range []domain.EventStatus{
		domain.StatusQueued,
		domain.StatusProcessing,
		domain.StatusDone,
		domain.StatusFailed,
	} {
		queueDepthGauge.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
