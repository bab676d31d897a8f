package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.WorkspaceStarted()
	m.WorkspaceStarted()
	m.WorkspaceFinished()
	m.ObserveTask("success", 2*time.Second)
	m.ObserveTask("timeout", time.Minute)
	m.ObserveDispatch("throttled")
	m.ObserveTransition("QualityCheck", "PRCreation")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeWorkspaces))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskOutcomes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("throttled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phaseTransitions.WithLabelValues("QualityCheck", "PRCreation")))
}

func TestMustNewMetricsReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNewMetrics(reg)
	b := MustNewMetrics(reg)

	a.WorkspaceStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(b.activeWorkspaces))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.WorkspaceStarted()
		m.WorkspaceFinished()
		m.ObserveTask("failed", time.Second)
		m.ObserveDispatch("success")
		m.ObserveTransition("a", "b")
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustNewMetrics(reg).ObserveDispatch("success")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `issueforge_dispatch_attempts_total{result="success"} 1`)
}
