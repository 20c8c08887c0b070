package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/ringconductor/internal/health"
	"github.com/devrev/ringconductor/internal/metrics"
	"github.com/devrev/ringconductor/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestServer() *OpsServer {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.RecordTick("ok", 0.1)

	hc := health.NewHealthChecker(store.NewMemoryStore(nil), nil, "search", zap.NewNop())
	return NewOpsServer(OpsServerConfig{Port: 0, MetricsPath: "/metrics"}, reg, hc, zap.NewNop())
}

func TestOpsServer_Metrics(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "conductor_ticks_total")
}

func TestOpsServer_HealthRoutes(t *testing.T) {
	s := newTestServer()

	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestOpsServer_RejectsOtherMethods(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health/live", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
