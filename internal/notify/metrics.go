package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridereport",
		Subsystem: "notify",
		Name:      "events_published_total",
		Help:      "Number of report events successfully published to Kafka.",
	})

	publishFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridereport",
		Subsystem: "notify",
		Name:      "publish_failures_total",
		Help:      "Number of report events dropped after a publish failure.",
	})
)

func init() {
	prometheus.MustRegister(publishedCounter, publishFailedCounter)
}
