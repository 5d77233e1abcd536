package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the orchestration metrics. HTTP-level metrics live in the
// api package middleware.
type Collector struct {
	TransactionsTotal      *prometheus.CounterVec
	OperationDuration      *prometheus.HistogramVec
	GuardRetriesTotal      prometheus.Counter
	CompensationsTotal     prometheus.Counter
	ReconciliationRequired prometheus.Counter
	CacheHits              prometheus.Counter
	CacheMisses            prometheus.Counter
}

// New creates the collectors under the given namespace and registers them
// with reg.
func New(namespace string, reg prometheus.Registerer) *Collector {
	c := &Collector{
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Settled transactions by type and terminal status",
			},
			[]string{"type", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "End-to-end orchestration latency by operation type",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		GuardRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_guard_retries_total",
			Help:      "Conditional balance updates retried after a version conflict",
		}),
		CompensationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_compensations_total",
			Help:      "Transfers whose debit was credited back after a failed credit leg",
		}),
		ReconciliationRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_required_total",
			Help:      "Operations that failed leaving account state needing manual reconciliation",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_cache_hits_total",
			Help:      "Transaction lookups served from cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_cache_misses_total",
			Help:      "Transaction lookups that fell through to the ledger store",
		}),
	}

	reg.MustRegister(
		c.TransactionsTotal,
		c.OperationDuration,
		c.GuardRetriesTotal,
		c.CompensationsTotal,
		c.ReconciliationRequired,
		c.CacheHits,
		c.CacheMisses,
	)

	return c
}

// NewNop creates unregistered collectors for tests.
func NewNop() *Collector {
	return New("test", prometheus.NewRegistry())
}
