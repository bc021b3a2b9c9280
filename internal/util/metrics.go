package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransfersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfers_created_total",
		Help: "Total number of transfers created",
	})

	TransfersReadyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfers_ready_total",
		Help: "Total number of transfers marked ready to ship",
	})

	TransfersDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfers_dispatched_total",
		Help: "Total number of transfers dispatched (in progress)",
	})

	TransfersReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfers_received_total",
		Help: "Total number of transfers fully received",
	})

	TransfersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfers_cancelled_total",
		Help: "Total number of transfers cancelled",
	})

	TransfersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfers_failed_total",
		Help: "Total number of failed transfer operations",
	}, []string{"reason"})

	LedgerClampsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_clamps_total",
		Help: "Total number of ledger decrements that would have gone negative and were clamped to zero",
	}, []string{"field"})

	LedgerCASConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_cas_conflicts_total",
		Help: "Total number of inventory level version conflicts on save",
	})

	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transfer_dispatch_latency_seconds",
		Help:    "Latency of transfer dispatch transitions",
		Buckets: prometheus.DefBuckets,
	})

	ReceiveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transfer_receive_latency_seconds",
		Help:    "Latency of transfer receive transitions",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
