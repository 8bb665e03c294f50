package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bsk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bsk_http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	LedgerApplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bsk_ledger_applies_total",
			Help: "Ledger apply calls by tx type and outcome (applied, duplicate, insufficient, error)",
		},
		[]string{"tx_type", "outcome"},
	)

	CommissionLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bsk_commission_lines_total",
			Help: "Commission lines by event type, reward kind and outcome (paid, zero, duplicate, locked, unconfigured, failed)",
		},
		[]string{"event_type", "reward_kind", "outcome"},
	)

	CommissionPaidBSK = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bsk_commission_paid_bsk_total",
			Help: "BSK credited through commissions by destination bucket",
		},
		[]string{"destination"},
	)

	TreeBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bsk_tree_builds_total",
			Help: "Referral tree builds by outcome (built, skipped, error)",
		},
		[]string{"outcome"},
	)

	TreeDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bsk_tree_build_levels",
			Help:    "Number of ancestor levels materialized per build",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 30, 40, 50},
		},
	)

	RebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bsk_tree_rebuild_all_seconds",
			Help:    "Duration of full network rebuild runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)
)
