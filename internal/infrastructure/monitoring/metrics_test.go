package monitoring

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GriffinCanCode/laplace/internal/providers/permissions"
	"github.com/GriffinCanCode/laplace/internal/runtime"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstancesDoNotCollide(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.SetLoaded(3)
	b.SetLoaded(1)
	assert.Equal(t, 3.0, testutil.ToFloat64(a.LappsLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.LappsLoaded))
}

func TestInvokeResults(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ResultOK},
		{fmt.Errorf("x: %w", runtime.ErrExportNotFound), ResultExportNotFound},
		{&runtime.TrapError{Export: "boom", Err: errors.New("unreachable")}, ResultTrap},
		{runtime.ErrResultMalformed, ResultMalformed},
		{runtime.ErrPoisoned, ResultUnavailable},
		{runtime.ErrClosed, ResultUnavailable},
		{errors.New("other"), ResultError},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			m := NewMetrics()
			m.ObserveInvoke("echo", "http_handler", time.Millisecond, tt.err)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Invokes.WithLabelValues("echo", "http_handler", tt.want)))
		})
	}
}

func TestObservers(t *testing.T) {
	m := NewMetrics()

	m.ObserveDenied("echo", permissions.Network)
	m.ObserveTransition("echo", "load")
	m.ObserveGossip("inbound", "delivered")
	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()
	m.RecordWSMessage("in", "text")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PermissionDenied.WithLabelValues("echo", "network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LappTransitions.WithLabelValues("echo", "load")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GossipMessages.WithLabelValues("inbound", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSMessages.WithLabelValues("in", "text")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(m.Handler()))
	router.NoRoute(func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/health", "/echo/api/x", "/other/static/a.js"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", LappRoute, "404")))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "laplace_http_requests_total")
	assert.Contains(t, w.Body.String(), "laplace_uptime_seconds")
}
