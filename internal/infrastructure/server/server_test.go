package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GriffinCanCode/laplace/internal/infrastructure/config"
	"github.com/GriffinCanCode/laplace/internal/runtime/wasmtest"
	"github.com/GriffinCanCode/laplace/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Lapps.Dir = t.TempDir()
	cfg.Lapps.DataDir = t.TempDir()
	cfg.Logging.Level = "error"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

func get(srv *Server, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for key, values := range header {
		req.Header[key] = values
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_HostRoutes(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	w := get(srv, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = get(srv, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "laplace_http_requests_total")

	w = get(srv, "/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_AdminToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Token = "secret"
	srv := newTestServer(t, cfg)

	w := get(srv, "/laplace/lapps", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(srv, "/laplace/lapps", http.Header{"Authorization": {"Bearer secret"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_LogLevel(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	w := get(srv, "/laplace/log/level", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"level":"error"`)

	req := httptest.NewRequest(http.MethodPut, "/laplace/log/level", strings.NewReader(`{"level":"warn"}`))
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "warn", srv.logger.Level())
}

func TestServer_BootstrapAndAutoload(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lapps.Autoload = true
	wasmtest.WriteLapp(t, cfg.Lapps.Dir, "echo", nil, "enabled = true")
	wasmtest.WriteLapp(t, cfg.Lapps.Dir, "idle", nil)

	srv := newTestServer(t, cfg)

	assert.Equal(t, types.Stats{Installed: 2, Enabled: 1, Loaded: 1}, srv.Manager().Stats())

	w := get(srv, "/echo/api/hello", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.Equal(t, wasmtest.HTTPBody, w.Body.String())

	w = get(srv, "/idle", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_InvalidTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gossip.Transport = config.TransportRedis
	cfg.Gossip.RedisURL = "not a url"

	_, err := NewServer(context.Background(), cfg)
	assert.Error(t, err)
}
