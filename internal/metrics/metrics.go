// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingested counts inbound activities by type and outcome.
	Ingested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solo",
			Name:      "ingested_activities_total",
			Help:      "Inbound activities by type and outcome.",
		},
		[]string{"type", "result"},
	)

	// Authored counts outbound activities created locally.
	Authored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solo",
			Name:      "authored_activities_total",
			Help:      "Locally authored activities by type.",
		},
		[]string{"type"},
	)

	// Deliveries counts delivery attempts by outcome.
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solo",
			Name:      "delivery_attempts_total",
			Help:      "Outgoing delivery attempts by outcome.",
		},
		[]string{"result"},
	)

	// Enqueued counts delivery work items created.
	Enqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "solo",
			Name:      "enqueued_deliveries_total",
			Help:      "Outgoing delivery work items enqueued.",
		},
	)
)

func init() {
	prometheus.MustRegister(Ingested, Authored, Deliveries, Enqueued)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
