// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks request latency by route template, method and status
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelforge_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	// WSConnections is the number of open realtime connections
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "modelforge_ws_connections",
		Help: "Open realtime connections",
	})

	// MessagesSent counts messages enqueued to realtime clients by message type
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelforge_ws_messages_sent_total",
		Help: "Realtime messages enqueued by type",
	}, []string{"type"})

	// MessagesDropped counts messages discarded because a client buffer was full
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelforge_ws_messages_dropped_total",
		Help: "Realtime messages dropped for slow clients by type",
	}, []string{"type"})

	// ContributionOutcomes counts lifecycle transitions by resulting status or failure
	ContributionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelforge_contribution_outcomes_total",
		Help: "Contribution submissions and settlements by outcome",
	}, []string{"outcome"})

	// ComputeSteps counts compute steps by result (completed, busy, failed)
	ComputeSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelforge_compute_steps_total",
		Help: "Compute training steps by result",
	}, []string{"result"})

	// TokensMinted counts reward tokens credited by source
	TokensMinted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelforge_tokens_minted_total",
		Help: "Reward tokens credited by source",
	}, []string{"source"})

	// ArchiveFlushes counts activity archive batch writes by result
	ArchiveFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelforge_archive_flushes_total",
		Help: "Activity archive batch flushes by result",
	}, []string{"result"})

	// IPFSRequests counts gateway calls by operation and result
	IPFSRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelforge_ipfs_requests_total",
		Help: "IPFS gateway requests by operation and result",
	}, []string{"operation", "result"})
)
