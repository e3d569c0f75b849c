/*
metrics.go - Prometheus instrumentation for coordinator intents

PURPOSE:
  Counts how every governance intent arriving over HTTP resolves:
  committed, rejected by a domain rule, or lost to a concurrency
  conflict. Scraped at /metrics.
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meridian/governance-engine/governance"
)

var intentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "governance",
	Name:      "intents_total",
	Help:      "Governance intents by name and outcome.",
}, []string{"intent", "outcome"})

// observeIntent records one intent's resolution. Nil means committed.
func observeIntent(intent string, err error) {
	outcome := "committed"
	switch {
	case err == nil:
	case governance.IsRetryable(err):
		outcome = "conflict"
	case governance.IsClientError(err):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	intentsTotal.WithLabelValues(intent, outcome).Inc()
}
