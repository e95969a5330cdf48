package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealguard/internal/domain"
	"dealguard/internal/pipeline"
	"dealguard/internal/query"
)

type storeFunc func(context.Context, query.Expression) ([]domain.Entity, error)

func (f storeFunc) Query(ctx context.Context, expr query.Expression) ([]domain.Entity, error) {
	return f(ctx, expr)
}

func TestObserveGuard(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)
	rec.ObserveGuard(domain.EntityOpportunity, pipeline.Blocked, "HasDependentChildren", time.Millisecond)
	rec.ObserveGuard(domain.EntityOpportunity, pipeline.Blocked, "HasDependentChildren", time.Millisecond)
	rec.ObserveGuard(domain.EntityOpportunity, pipeline.Permitted, "", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.guardOutcomes.WithLabelValues(domain.EntityOpportunity, "blocked", "HasDependentChildren")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.guardOutcomes.WithLabelValues(domain.EntityOpportunity, "permitted", "")))
}

func TestStoreCountsErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)
	failing := rec.Store(storeFunc(func(context.Context, query.Expression) ([]domain.Entity, error) {
		return nil, errors.New("down")
	}))
	_, err := failing.Query(context.Background(), query.Where(domain.EntityQuote, "opportunity_id", "x"))
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.queryErrors.WithLabelValues(domain.EntityQuote)))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.queryLatency))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)
	rec.ObserveGuard(domain.EntityOpportunity, pipeline.Failed, "", time.Millisecond)

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `dealguard_guard_decisions_total{class="",entity="opportunity",outcome="failed"} 1`))
}
