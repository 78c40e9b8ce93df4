package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/laplace/internal/gossip"
	"github.com/GriffinCanCode/laplace/internal/runtime"
	"github.com/GriffinCanCode/laplace/internal/runtime/wasmtest"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_StaticAssets(t *testing.T) {
	env := setupTestRouter(t, envOptions{})
	// Assets only need the lapp enabled
	env.install(t, "echo", nil, true, false)

	tests := []struct {
		name     string
		method   string
		path     string
		wantBody string
		wantType string
	}{
		{"index", http.MethodGet, "/echo", wasmtest.IndexHTML, "text/html"},
		{"static file", http.MethodGet, "/echo/static/app.js", wasmtest.AppJS, "javascript"},
		{"client route falls back to index", http.MethodGet, "/echo/settings/profile", wasmtest.IndexHTML, "text/html"},
		{"head", http.MethodHead, "/echo", "", "text/html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(tt.method, tt.path, nil)
			require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
			assert.Equal(t, tt.wantBody, w.Body.String())
			assert.Contains(t, w.Header().Get("Content-Type"), tt.wantType)
		})
	}
}

func TestGateway_StaticRejections(t *testing.T) {
	env := setupTestRouter(t, envOptions{})
	env.install(t, "echo", nil, true, false)
	env.install(t, "idle", nil, false, false)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantKind   string
	}{
		{"missing file", "/echo/static/missing.js", http.StatusNotFound, "not_found"},
		{"traversal", "/echo/static/../lapp.toml", http.StatusNotFound, "not_found"},
		{"deep traversal", "/echo/static/../../../etc/passwd", http.StatusNotFound, "not_found"},
		{"static dir itself", "/echo/static/", http.StatusNotFound, "not_found"},
		{"unknown lapp", "/ghost", http.StatusNotFound, "not_found"},
		{"disabled lapp", "/idle", http.StatusConflict, "not_enabled"},
		{"reserved name", "/laplace", http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, tt.path, nil)
			requireError(t, w, tt.wantStatus, tt.wantKind)
		})
	}
}

func TestGateway_API(t *testing.T) {
	env := setupTestRouter(t, envOptions{})
	env.install(t, "echo", nil, true, true)

	w := env.do(http.MethodPost, "/echo/api/items?x=1", strings.NewReader(`{"a":1}`))
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.Equal(t, wasmtest.HTTPBody, w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, 1, env.invokes.Count("echo/"+runtime.HTTPHandler))
}

func TestGateway_BinaryBody(t *testing.T) {
	raw := []byte{0xff, 0xfe, 0x00, 0x01}
	r := httptest.NewRequest(http.MethodPost, "/echo/api/blob", bytes.NewReader(raw))
	route, ok := Match(r.Method, r.URL.Path)
	require.True(t, ok)
	body, err := readBody(r.Body, DefaultMaxBodyBytes)
	require.NoError(t, err)

	payload, err := runtime.EncodeHTTPRequest(apiRequest(r, route, body))
	require.NoError(t, err)

	// What a guest sees through an ordinary JSON decoder
	var seen struct {
		Body         string `json:"body"`
		BodyEncoding string `json:"body_encoding"`
	}
	require.NoError(t, json.Unmarshal(payload, &seen))
	require.Equal(t, runtime.BodyBase64, seen.BodyEncoding)
	decoded, err := base64.StdEncoding.DecodeString(seen.Body)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	// The guest answers with the same bytes
	out, err := sonic.Marshal(map[string]any{
		"status":        http.StatusOK,
		"headers":       map[string]string{"content-type": "application/octet-stream"},
		"body":          seen.Body,
		"body_encoding": seen.BodyEncoding,
	})
	require.NoError(t, err)
	resp, err := runtime.DecodeHTTPResponse(out)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	writeAPIResponse(c, resp)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, raw, w.Body.Bytes())
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
}

func TestGateway_APIErrors(t *testing.T) {
	env := setupTestRouter(t, envOptions{maxBodyBytes: 16})
	env.install(t, "echo", nil, true, true)
	env.install(t, "idle", nil, true, false)
	env.install(t, "off", nil, false, false)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantKind   string
	}{
		{"not loaded", "/idle/api/items", "", http.StatusServiceUnavailable, "not_loaded"},
		{"not enabled", "/off/api/items", "", http.StatusConflict, "not_enabled"},
		{"not installed", "/ghost/api/items", "", http.StatusNotFound, "not_found"},
		{"body too large", "/echo/api/items", strings.Repeat("x", 17), http.StatusRequestEntityTooLarge, "too_large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, tt.path, strings.NewReader(tt.body))
			requireError(t, w, tt.wantStatus, tt.wantKind)
		})
	}
	assert.Equal(t, 0, env.invokes.Count("echo/"+runtime.HTTPHandler))
}

func TestGateway_ErrorBody(t *testing.T) {
	env := setupTestRouter(t, envOptions{})
	env.install(t, "idle", nil, true, false)

	w := env.do(http.MethodGet, "/idle/api/items", nil)
	detail := decodeError(t, w)
	assert.Equal(t, "idle", detail.Lapp)
	assert.Equal(t, "lapp 'idle' is not loaded", detail.Message)
}

func TestGateway_P2PDeniedWithoutPermission(t *testing.T) {
	env := setupTestRouter(t, envOptions{})
	env.install(t, "echo", []string{}, true, true)

	w := env.do(http.MethodPost, "/echo/api/p2p", nil)
	requireError(t, w, http.StatusForbidden, "permission_denied")
	assert.Equal(t, 0, env.transport.Subscribers("echo"))
}

func TestGateway_P2PDelivers(t *testing.T) {
	env := setupTestRouter(t, envOptions{})
	env.install(t, "echo", []string{"peer-messaging"}, true, true)

	w := env.do(http.MethodPost, "/echo/api/p2p", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.JSONEq(t, `{"lapp":"echo","gossip":true}`, w.Body.String())
	require.Equal(t, 1, env.transport.Subscribers("echo"))

	// Starting twice keeps the single subscription
	w = env.do(http.MethodPost, "/echo/api/p2p", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, env.transport.Subscribers("echo"))

	msg := gossip.Message{ID: "m1", Topic: "echo", Peer: "remote", Data: []byte("hi")}
	require.NoError(t, env.transport.Publish(context.Background(), "echo", msg))

	select {
	case <-env.invokes.p2p:
	case <-time.After(5 * time.Second):
		t.Fatal("p2p_handler was never invoked")
	}
	assert.Equal(t, 1, env.invokes.Count("echo/"+runtime.P2PHandler))

	w = env.do(http.MethodDelete, "/echo/api/p2p", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"lapp":"echo","gossip":false}`, w.Body.String())
	assert.Equal(t, 0, env.transport.Subscribers("echo"))

	w = env.do(http.MethodDelete, "/echo/api/p2p", nil)
	requireError(t, w, http.StatusConflict, "not_subscribed")
}

func TestGateway_WebSocket(t *testing.T) {
	env := setupTestRouter(t, envOptions{})
	env.install(t, "echo", nil, true, true)
	env.install(t, "idle", nil, true, false)

	srv := httptest.NewServer(env.router)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(base+"/echo/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(data))

	_, resp, err := websocket.DefaultDialer.Dial(base+"/idle/api/ws", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestReadBody(t *testing.T) {
	data, err := readBody(strings.NewReader("abcd"), 4)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))

	_, err = readBody(strings.NewReader("abcde"), 4)
	assert.Error(t, err)

	data, err = readBody(nil, 4)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestForwardHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer x")
	h.Set("X-Forwarded-For", "10.0.0.1")

	got := forwardHeaders(h)
	assert.Equal(t, map[string]string{
		"content-type":  "application/json",
		"authorization": "Bearer x",
	}, got)

	// The envelope round-trips through the runtime encoder
	payload, err := runtime.EncodeHTTPRequest(runtime.HTTPRequest{Method: "GET", Path: "/", Headers: got})
	require.NoError(t, err)
	var req runtime.HTTPRequest
	require.NoError(t, sonic.Unmarshal(payload, &req))
	assert.Equal(t, got, req.Headers)
}
