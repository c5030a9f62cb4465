package tokens

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridereport",
		Subsystem: "tokens",
		Name:      "refreshes_total",
		Help:      "Number of successful OAuth token refreshes.",
	})

	refreshRaceCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridereport",
		Subsystem: "tokens",
		Name:      "rotation_races_total",
		Help:      "Number of refreshes lost to a concurrent rotation and resolved by re-read.",
	})
)

func init() {
	prometheus.MustRegister(refreshCounter, refreshRaceCounter)
}
