package api

import "github.com/prometheus/client_golang/prometheus"

var webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ridereport",
	Subsystem: "api",
	Name:      "webhook_deliveries_total",
	Help:      "Number of webhook deliveries received, by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(webhookCounter)
}
