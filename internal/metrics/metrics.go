// Package metrics holds the Prometheus collectors shared by services and handlers.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// AllocationWrites counts ledger writes by outcome (created, updated, deleted,
// unchanged, rejected, failed).
var AllocationWrites = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sponsoredissues",
		Name:      "allocation_writes_total",
		Help:      "Allocation ledger writes, partitioned by outcome.",
	},
	[]string{"outcome"},
)

// CatalogChanges counts catalog mutations by source (webhook, sync, admin) and change.
var CatalogChanges = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sponsoredissues",
		Name:      "catalog_changes_total",
		Help:      "Issue catalog changes, partitioned by source and change kind.",
	},
	[]string{"source", "change"},
)

// WebhookDeliveries counts webhook requests by event and result.
var WebhookDeliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sponsoredissues",
		Name:      "webhook_deliveries_total",
		Help:      "GitHub webhook deliveries, partitioned by event and result.",
	},
	[]string{"event", "result"},
)

// ValidationLookups counts validation cache lookups by kind and result (hit, miss, error).
var ValidationLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sponsoredissues",
		Name:      "validation_lookups_total",
		Help:      "Validation cache lookups, partitioned by kind and result.",
	},
	[]string{"kind", "result"},
)

// RequestCount and RequestDuration are recorded by the HTTP middleware. The
// path label is the route pattern, not the raw URL, to bound cardinality.
var RequestCount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sponsoredissues",
		Name:      "requests_total",
		Help:      "HTTP requests processed, partitioned by status code, method and route.",
	},
	[]string{"code", "method", "route"},
)

var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sponsoredissues",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latencies in seconds.",
	},
	[]string{"code", "method", "route"},
)

var collectors = []prometheus.Collector{
	AllocationWrites,
	CatalogChanges,
	WebhookDeliveries,
	ValidationLookups,
	RequestCount,
	RequestDuration,
}

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}
	return nil
}
