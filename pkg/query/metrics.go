package query

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the query pipeline. A nil
// *Metrics records nothing.
type Metrics struct {
	queriesTotal   *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	degradations   *prometheus.CounterVec
	traversalHops  prometheus.Histogram
	pipelinesBuilt prometheus.Counter
	contextTokens  prometheus.Histogram
}

// NewMetrics registers the pipeline collectors against reg. Tests pass a
// fresh prometheus.Registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiwiq",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Completed queries, partitioned by route and outcome.",
		}, []string{"route", "outcome"}),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kiwiq",
			Subsystem: "query",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),

		degradations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiwiq",
			Subsystem: "query",
			Name:      "degradations_total",
			Help:      "Recoverable failures recorded on answers, partitioned by kind.",
		}, []string{"kind"}),

		traversalHops: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kiwiq",
			Subsystem: "traversal",
			Name:      "hops_completed",
			Help:      "Beam traversal hops completed per query.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),

		pipelinesBuilt: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kiwiq",
			Subsystem: "pipeline_cache",
			Name:      "builds_total",
			Help:      "Pipelines constructed by the pipeline cache.",
		}),

		contextTokens: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kiwiq",
			Subsystem: "context",
			Name:      "tokens",
			Help:      "Tokens in the assembled synthesis context.",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 8),
		}),
	}
}

func (m *Metrics) observeStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeQuery(route Route, outcome string) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(string(route), outcome).Inc()
}

func (m *Metrics) observeAnswer(a *Answer) {
	if m == nil || a == nil {
		return
	}
	for _, d := range a.Degraded {
		m.degradations.WithLabelValues(string(d)).Inc()
	}
	m.traversalHops.Observe(float64(a.Trace.HopsCompleted))
	m.contextTokens.Observe(float64(a.Context.TokenCount))
}

func (m *Metrics) pipelineBuilt() {
	if m == nil {
		return
	}
	m.pipelinesBuilt.Inc()
}
