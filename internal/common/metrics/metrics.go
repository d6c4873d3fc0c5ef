// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ojcore"

var (
	SubmissionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_created_total",
		Help:      "Submissions accepted by the engine.",
	})

	DispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_failures_total",
		Help:      "Submissions finished at dispatch because the execution service rejected a request.",
	}, []string{"verdict"})

	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verdicts_total",
		Help:      "Final submission verdicts.",
	}, []string{"verdict"})

	DuplicateResults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_results_total",
		Help:      "Execution results discarded because the execution was already terminal.",
	})

	ParkedResults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parked_results_total",
		Help:      "Execution results received before their execution rows existed.",
	})

	SweptExecutions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swept_executions_total",
		Help:      "Executions force-terminated by the deadline sweep.",
	})

	CASConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cas_conflicts_total",
		Help:      "Optimistic concurrency conflicts retried.",
	}, []string{"record"})

	GradingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "grading_duration_seconds",
		Help:      "Time from dispatch to DONE.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)

// Handler exposes the default registry for gin.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
