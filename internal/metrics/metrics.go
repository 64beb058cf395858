// Package metrics exposes Prometheus counters for the delivery subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsEnqueued counts delivery jobs accepted by the API.
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_jobs_enqueued_total",
		Help: "Number of delivery jobs created by the enqueue endpoint",
	})

	// JobOutcomes counts jobs reaching a terminal status, by status.
	JobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_jobs_finished_total",
		Help: "Number of delivery jobs reaching a terminal status",
	}, []string{"status"})

	// ItemResults counts per-item delivery results: created, skipped
	// (already present remotely), or failed after exhausting retries.
	ItemResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_items_total",
		Help: "Number of items processed by the delivery engine, by result",
	}, []string{"result"})

	// CacheHits counts dedup cache hits that skipped the remote query.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_dedup_cache_hits_total",
		Help: "Number of items resolved from the dedup cache",
	})
)
