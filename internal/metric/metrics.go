package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "testrail_requests_total",
		Help: "The number of requests sent to TestRail since the process was started",
	}, []string{"endpoint", "result"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "testrail_request_duration_seconds",
		Help:    "Latency of requests sent to TestRail",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	DeliveriesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "testrail_journal_deliveries_pruned_total",
		Help: "The number of journal entries removed by the retention schedule",
	})
)
