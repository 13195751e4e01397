// Package metrics holds the Prometheus collectors of the notification subsystem
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatch outcomes partitioned by channel and resulting send log status
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_dispatch_total",
			Help: "Dispatch attempts by channel and resulting status",
		},
		[]string{"channel", "status"},
	)

	// Provider call latency
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadrelay_provider_call_duration_seconds",
			Help:    "Channel provider call latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel", "operation"},
	)

	// Links skipped by the evaluator, by reason
	TriggerSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_trigger_skipped_total",
			Help: "Message links skipped during trigger evaluation",
		},
		[]string{"reason"},
	)

	// Reconcile transitions by resulting status
	ReconcileUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_reconcile_updates_total",
			Help: "Send logs moved to a terminal status by reconciliation",
		},
		[]string{"status"},
	)

	ReconcileSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadrelay_reconcile_skipped_total",
			Help: "Reconcile runs skipped because the org was already in flight",
		},
	)

	ReconcileGroupErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_reconcile_group_errors_total",
			Help: "Provider status queries that failed during reconciliation",
		},
		[]string{"channel"},
	)

	// Dispatch queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadrelay_dispatch_queue_depth",
			Help: "Tasks waiting in the dispatch queue",
		},
	)

	QueueRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadrelay_dispatch_queue_rejected_total",
			Help: "Tasks rejected because the dispatch queue was full",
		},
	)

	// Realtime
	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadrelay_realtime_subscribers",
			Help: "Open realtime subscriptions",
		},
	)

	RealtimeDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadrelay_realtime_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	// Allocation retries after lock contention
	AllocationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadrelay_allocation_retries_total",
			Help: "Record create transactions retried after partition lock contention",
		},
	)
)
