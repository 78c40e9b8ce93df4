package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/laplace/internal/api/response"
	"github.com/GriffinCanCode/laplace/internal/domain/lapps"
	"github.com/GriffinCanCode/laplace/internal/runtime"
	"github.com/GriffinCanCode/laplace/internal/runtime/wasmtest"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingMetrics struct {
	mu       sync.Mutex
	conns    int
	messages map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{messages: map[string]int{}}
}

func (m *countingMetrics) IncWSConnections() {
	m.mu.Lock()
	m.conns++
	m.mu.Unlock()
}

func (m *countingMetrics) DecWSConnections() {
	m.mu.Lock()
	m.conns--
	m.mu.Unlock()
}

func (m *countingMetrics) RecordWSMessage(direction, msgType string) {
	m.mu.Lock()
	m.messages[direction+"/"+msgType]++
	m.mu.Unlock()
}

func (m *countingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[key]
}

func (m *countingMetrics) connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns
}

func setupManager(t *testing.T) *lapps.Manager {
	t.Helper()
	logger := zaptest.NewLogger(t)

	engine := runtime.NewEngine(runtime.DefaultConfig(), logger, nil)
	t.Cleanup(func() { engine.Close(context.Background()) })

	m, err := lapps.NewManager(lapps.Config{LappsDir: t.TempDir(), DataDir: t.TempDir()}, engine, nil, nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func installLoaded(t *testing.T, m *lapps.Manager, name string) {
	t.Helper()
	ctx := context.Background()
	_, err := m.InstallDir(ctx, wasmtest.WriteLapp(t, t.TempDir(), name, nil))
	require.NoError(t, err)
	require.NoError(t, m.Enable(name))
	require.NoError(t, m.Load(ctx, name))
}

// setupServer serves handler for the lapp named by the first path segment
func setupServer(t *testing.T, handler *Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lapp := strings.Trim(r.URL.Path, "/")
		if err := handler.Serve(w, r, lapp); err != nil {
			status, body := response.Error(lapp, err)
			w.WriteHeader(status)
			data, _ := sonic.Marshal(body)
			_, _ = w.Write(data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, lapp string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + lapp
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestHandler_Echo(t *testing.T) {
	m := setupManager(t)
	installLoaded(t, m, "echo")
	metrics := newCountingMetrics()
	srv := setupServer(t, NewHandler(m, DefaultConfig(), zaptest.NewLogger(t), metrics))

	conn, _, err := dial(t, srv, "echo")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	msgType, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, []byte{0x01, 0x02}, data)

	assert.Equal(t, 1, metrics.connections())
	assert.Equal(t, 1, metrics.count("in/text"))
	assert.Equal(t, 1, metrics.count("out/binary"))
}

func TestHandler_RejectsBeforeUpgrade(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()
	_, err := m.InstallDir(ctx, wasmtest.WriteLapp(t, t.TempDir(), "idle", nil))
	require.NoError(t, err)
	require.NoError(t, m.Enable("idle"))

	srv := setupServer(t, NewHandler(m, DefaultConfig(), zaptest.NewLogger(t), nil))

	tests := []struct {
		name       string
		lapp       string
		wantStatus int
	}{
		{"unknown lapp", "ghost", http.StatusNotFound},
		{"enabled but not loaded", "idle", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := dial(t, srv, tt.lapp)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestHandler_ClosesWhenUnloaded(t *testing.T) {
	m := setupManager(t)
	installLoaded(t, m, "echo")
	srv := setupServer(t, NewHandler(m, DefaultConfig(), zaptest.NewLogger(t), nil))

	conn, _, err := dial(t, srv, "echo")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, m.Unload(context.Background(), "echo"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("anyone there?")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)

	var body response.ErrorBody
	require.NoError(t, sonic.Unmarshal(data, &body))
	assert.Equal(t, "not_loaded", body.Error.Kind)
	assert.Equal(t, "echo", body.Error.Lapp)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "error: %v", err)
}

func TestHandler_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard", []string{"*"}, "https://evil.example", true},
		{"empty list", nil, "https://a.example", true},
		{"no origin header", []string{"https://a.example"}, "", true},
		{"listed", []string{"https://a.example"}, "https://A.example", true},
		{"unlisted", []string{"https://a.example"}, "https://b.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.AllowedOrigins = tt.allowed
			h := NewHandler(nil, cfg, zaptest.NewLogger(t), nil)

			req := httptest.NewRequest(http.MethodGet, "/echo/api/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, h.checkOrigin(req))
		})
	}
}

func TestNewHandler_Defaults(t *testing.T) {
	h := NewHandler(nil, Config{PongWait: time.Second, PingInterval: 2 * time.Second}, zaptest.NewLogger(t), nil)
	assert.Equal(t, DefaultConfig().ReadLimit, h.cfg.ReadLimit)
	assert.Less(t, h.cfg.PingInterval, h.cfg.PongWait)
	assert.Equal(t, DefaultConfig().WriteWait, h.cfg.WriteWait)
}
