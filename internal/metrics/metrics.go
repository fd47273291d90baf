// Package metrics holds the Prometheus collectors shared across the Store,
// Directory, and Replication Manager daemons.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	StorePuts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haystack_store_puts_total",
			Help: "Total number of put operations by result",
		},
		[]string{"result"},
	)

	StoreGets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haystack_store_gets_total",
			Help: "Total number of get operations by result",
		},
		[]string{"result"},
	)

	StoreDeletes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haystack_store_deletes_total",
			Help: "Total number of delete operations by result",
		},
		[]string{"result"},
	)

	VolumeBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "haystack_store_volume_bytes",
			Help: "On-disk bytes per volume",
		},
		[]string{"volume_id"},
	)

	LiveBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "haystack_store_live_bytes",
			Help: "Live (non-tombstoned) bytes per volume",
		},
		[]string{"volume_id"},
	)

	CompactionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "haystack_store_compactions_total",
			Help: "Total number of completed volume compactions",
		},
	)

	GCTombstonesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "haystack_store_gc_tombstones_total",
			Help: "Total number of needles tombstoned by garbage collection",
		},
	)

	// Directory metrics
	DirectoryIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "haystack_directory_is_leader",
			Help: "Whether this Directory replica currently holds the leader lease (1=leader)",
		},
	)

	DirectoryStoresByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "haystack_directory_stores",
			Help: "Number of known stores by health status",
		},
		[]string{"status"},
	)

	DirectoryBlobsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "haystack_directory_blobs_total",
			Help: "Number of blobs registered through this Directory process since it started",
		},
	)

	// Cache metrics
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haystack_cache_requests_total",
			Help: "Total cache lookups by outcome",
		},
		[]string{"outcome"}, // hit, miss, error
	)

	// Replication metrics
	ReplicationTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "haystack_replication_ticks_total",
			Help: "Total number of replication control-loop ticks run",
		},
	)

	ReplicationTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "haystack_replication_tick_duration_seconds",
			Help:    "Duration of a replication control-loop tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplicationActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haystack_replication_actions_total",
			Help: "Total number of replication actions taken",
		},
		[]string{"action"}, // up_replicate, de_replicate
	)

	AuditRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "haystack_audit_runs_total",
			Help: "Total number of nightly audit runs completed",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haystack_api_requests_total",
			Help: "Total HTTP requests by handler and status",
		},
		[]string{"handler", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		StorePuts, StoreGets, StoreDeletes,
		VolumeBytes, LiveBytes, CompactionsTotal, GCTombstonesTotal,
		DirectoryIsLeader, DirectoryStoresByStatus, DirectoryBlobsTotal,
		CacheHits,
		ReplicationTicksTotal, ReplicationTickDuration, ReplicationActionsTotal, AuditRunsTotal,
		APIRequestsTotal,
	)
}

// Handler returns the standard Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
