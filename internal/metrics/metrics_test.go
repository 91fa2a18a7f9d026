package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("jobguard_test")

	m.Login("success")
	m.Login("failure")
	m.Login("failure")
	m.StoreFallback("sessions", "get")
	m.AuditDrop()
	m.ObserveRequest(http.MethodPost, "/auth/login", http.StatusOK, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Logins.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreFallbacks.WithLabelValues("sessions", "get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestCount.WithLabelValues("POST", "/auth/login", "200")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New("jobguard_test")
	m.TokenIssued("access")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `jobguard_test_auth_tokens_issued_total{type="access"} 1`)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Login("success")
		m.TokenVerified("ok")
		m.Limited("user")
		m.AuditEvent("logout", "LOW")
		m.StoreFallback("blacklist", "add")
		m.ObserveRequest("GET", "/", 200, time.Millisecond)
	})

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
