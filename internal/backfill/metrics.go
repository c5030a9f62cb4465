package backfill

import "github.com/prometheus/client_golang/prometheus"

var (
	runsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridereport",
		Subsystem: "backfill",
		Name:      "runs_total",
		Help:      "Number of completed backfill reconciliation passes.",
	})

	queuedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridereport",
		Subsystem: "backfill",
		Name:      "events_queued_total",
		Help:      "Number of queue events created by backfill passes.",
	})
)

func init() {
	prometheus.MustRegister(runsCounter, queuedCounter)
}
