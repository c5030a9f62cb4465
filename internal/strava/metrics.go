package strava

import "github.com/prometheus/client_golang/prometheus"

var rateLimitCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ridereport",
	Subsystem: "strava",
	Name:      "rate_limited_total",
	Help:      "Number of rate-limit responses absorbed by the client cool-down.",
})

func init() {
	prometheus.MustRegister(rateLimitCounter)
}
