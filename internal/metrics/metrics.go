// Package metrics exports guard outcomes and record store latency to
// Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dealguard/internal/domain"
	"dealguard/internal/pipeline"
	"dealguard/internal/query"
	"dealguard/internal/validation"
)

const namespace = "dealguard"

type Recorder struct {
	guardOutcomes *prometheus.CounterVec
	guardLatency  *prometheus.HistogramVec
	queryLatency  *prometheus.HistogramVec
	queryErrors   *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		guardOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "decisions_total",
			Help:      "Deletion guard invocations by outcome and reason class.",
		}, []string{"entity", "outcome", "class"}),
		guardLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "duration_seconds",
			Help:      "Time spent deciding a deletion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Filtered record store query latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_errors_total",
			Help:      "Failed record store queries.",
		}, []string{"entity"}),
	}
	reg.MustRegister(r.guardOutcomes, r.guardLatency, r.queryLatency, r.queryErrors)
	return r
}

func (r *Recorder) ObserveGuard(entity string, outcome pipeline.Outcome, class string, elapsed time.Duration) {
	r.guardOutcomes.WithLabelValues(entity, string(outcome), class).Inc()
	r.guardLatency.WithLabelValues(entity).Observe(elapsed.Seconds())
}

// Store wraps a record store and times each query.
func (r *Recorder) Store(inner validation.RecordStore) validation.RecordStore {
	return timedStore{inner: inner, rec: r}
}

type timedStore struct {
	inner validation.RecordStore
	rec   *Recorder
}

func (s timedStore) Query(ctx context.Context, expr query.Expression) ([]domain.Entity, error) {
	start := time.Now()
	rows, err := s.inner.Query(ctx, expr)
	s.rec.queryLatency.WithLabelValues(expr.Entity).Observe(time.Since(start).Seconds())
	if err != nil {
		s.rec.queryErrors.WithLabelValues(expr.Entity).Inc()
	}
	return rows, err
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
