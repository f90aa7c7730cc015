package metrics_test

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/compositeworker/pkg/metrics"
)

func TestNew_DoesNotPanicAndCountersStartAtZero(t *testing.T) {
	reg := metrics.New()
	require.NotNil(t, reg)
	assert.Equal(t, float64(0), testutil.ToFloat64(reg.RequestsTotal.WithLabelValues("if_counters", "success")))
}

func TestHandler_ServesPrometheusExposition(t *testing.T) {
	reg := metrics.New()
	reg.RequestsTotal.WithLabelValues("if_counters", "success").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "compositeworker_requests_total")
}
