package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HeartbeatsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peakactivity_heartbeats_received_total",
		Help: "Total number of heartbeats received.",
	})

	HeartbeatsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peakactivity_heartbeats_merged_total",
		Help: "Total number of heartbeats merged into their predecessor event.",
	})

	HeartbeatLockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peakactivity_heartbeat_lock_timeouts_total",
		Help: "Heartbeats processed without the per-bucket lock after a bounded wait expired.",
	})

	EventsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peakactivity_events_inserted_total",
		Help: "Total number of events inserted into the local store.",
	})

	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peakactivity_sync_runs_total",
		Help: "Total number of sync passes, labelled by mode.",
	}, []string{"mode"})

	SyncItemsSynced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peakactivity_sync_items_synced_total",
		Help: "Buckets and events written during sync, labelled by direction.",
	}, []string{"direction"})

	SyncItemsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peakactivity_sync_items_failed_total",
		Help: "Per-item sync failures that were logged and skipped, labelled by direction.",
	}, []string{"direction"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "peakactivity_sync_duration_seconds",
		Help:    "Wall-clock duration of a full sync pass.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)
