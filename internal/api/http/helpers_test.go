package http

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/laplace/internal/api/response"
	"github.com/GriffinCanCode/laplace/internal/api/ws"
	"github.com/GriffinCanCode/laplace/internal/domain/lapps"
	"github.com/GriffinCanCode/laplace/internal/gossip"
	"github.com/GriffinCanCode/laplace/internal/providers/permissions"
	"github.com/GriffinCanCode/laplace/internal/runtime"
	"github.com/GriffinCanCode/laplace/internal/runtime/wasmtest"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// invokeCounter counts invokes per lapp/export
type invokeCounter struct {
	mu     sync.Mutex
	counts map[string]int
	p2p    chan struct{}
}

func (r *invokeCounter) ObserveInvoke(lapp, export string, _ time.Duration, _ error) {
	r.mu.Lock()
	r.counts[lapp+"/"+export]++
	r.mu.Unlock()
	if export == runtime.P2PHandler {
		r.p2p <- struct{}{}
	}
}

func (r *invokeCounter) ObserveDenied(string, permissions.Permission) {}

func (r *invokeCounter) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

type testEnv struct {
	router    *gin.Engine
	manager   *lapps.Manager
	transport *gossip.MemoryTransport
	invokes   *invokeCounter
}

type envOptions struct {
	maxBodyBytes    int64
	maxPackageBytes int64
}

// setupTestRouter wires a real manager, gateway and management API the way
// the server does
func setupTestRouter(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	invokes := &invokeCounter{counts: map[string]int{}, p2p: make(chan struct{}, 16)}
	engine := runtime.NewEngine(runtime.DefaultConfig(), logger, invokes)
	t.Cleanup(func() { engine.Close(context.Background()) })

	transport := gossip.NewMemoryTransport()
	svc := gossip.NewService(transport, gossip.Config{
		PeerID:          "local",
		Timeout:         time.Second,
		DeliveryTimeout: time.Second,
	}, logger, nil)
	t.Cleanup(func() { svc.Close() })

	manager, err := lapps.NewManager(lapps.Config{LappsDir: t.TempDir(), DataDir: t.TempDir()}, engine, svc, nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close(context.Background()) })

	handlers := NewHandlers(manager, opts.maxPackageBytes, logger)
	gateway := NewGateway(manager, ws.NewHandler(manager, ws.DefaultConfig(), logger, nil), opts.maxBodyBytes, logger)

	router := gin.New()
	router.GET("/health", handlers.Health)
	handlers.Register(router.Group("/laplace"))
	router.NoRoute(gateway.Handle)

	return &testEnv{
		router:    router,
		manager:   manager,
		transport: transport,
		invokes:   invokes,
	}
}

// install installs a fixture lapp; enabled and loaded control how far it
// is taken through the lifecycle
func (e *testEnv) install(t *testing.T, name string, perms []string, enabled, loaded bool) {
	t.Helper()
	ctx := context.Background()
	_, err := e.manager.InstallDir(ctx, wasmtest.WriteLapp(t, t.TempDir(), name, perms))
	require.NoError(t, err)
	if enabled {
		require.NoError(t, e.manager.Enable(name))
	}
	if loaded {
		require.NoError(t, e.manager.Load(ctx, name))
	}
}

func (e *testEnv) do(method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorDetail {
	t.Helper()
	var body response.ErrorBody
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body.Error
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	require.Equal(t, status, w.Code, "body: %s", w.Body.String())
	require.Equal(t, kind, decodeError(t, w).Kind)
}

// lappZip packs a fixture lapp into a zip archive
func lappZip(t *testing.T, name string, perms []string) []byte {
	t.Helper()
	dir := wasmtest.WriteLapp(t, t.TempDir(), name, perms)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, rel := range []string{"lapp.toml", "server.wasm", "index.html", "static/app.js"} {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		require.NoError(t, err)
		w, err := zw.Create(rel)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
