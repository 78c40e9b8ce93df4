package ws

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/GriffinCanCode/laplace/internal/api/response"
	"github.com/GriffinCanCode/laplace/internal/domain/lapps"
	"github.com/GriffinCanCode/laplace/internal/runtime"
	"github.com/GriffinCanCode/laplace/internal/shared/id"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Resolver looks up loaded lapps
type Resolver interface {
	Resolve(name string) (*lapps.Handle, error)
}

// Metrics tracks connection and frame counts
type Metrics interface {
	IncWSConnections()
	DecWSConnections()
	RecordWSMessage(direction, msgType string)
}

type nopMetrics struct{}

func (nopMetrics) IncWSConnections()              {}
func (nopMetrics) DecWSConnections()              {}
func (nopMetrics) RecordWSMessage(string, string) {}

// Config tunes connection handling
type Config struct {
	// ReadLimit caps a single inbound frame in bytes
	ReadLimit int64
	// PongWait is how long a connection may stay silent
	PongWait time.Duration
	// PingInterval must be shorter than PongWait
	PingInterval time.Duration
	WriteWait    time.Duration
	// AllowedOrigins lists accepted Origin values. Empty or "*" accepts any.
	AllowedOrigins []string
}

// DefaultConfig returns the standard connection settings
func DefaultConfig() Config {
	return Config{
		ReadLimit:      1 << 20,
		PongWait:       60 * time.Second,
		PingInterval:   50 * time.Second,
		WriteWait:      10 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Handler bridges WebSocket connections to a lapp's ws_handler export
type Handler struct {
	lapps    Resolver
	cfg      Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  Metrics
}

// NewHandler creates a WebSocket bridge
func NewHandler(resolver Resolver, cfg Config, logger *zap.Logger, metrics Metrics) *Handler {
	defaults := DefaultConfig()
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaults.ReadLimit
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	h := &Handler{
		lapps:   resolver,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 || slices.Contains(h.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.ContainsFunc(h.cfg.AllowedOrigins, func(allowed string) bool {
		return strings.EqualFold(allowed, origin)
	})
}

// Serve upgrades the request and bridges frames to lapp until either side
// closes. A lapp that cannot be resolved is reported before the upgrade so
// the caller can answer with a regular HTTP error.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, lapp string) error {
	if _, err := h.lapps.Resolve(lapp); err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Debug("WebSocket upgrade failed", zap.String("lapp", lapp), zap.Error(err))
		return nil
	}

	c := &connection{
		id:      id.NewConnID(),
		lapp:    lapp,
		conn:    conn,
		handler: h,
		ctx:     context.WithoutCancel(r.Context()),
		logger:  h.logger.With(zap.String("lapp", lapp)),
	}
	c.logger = c.logger.With(zap.String("conn_id", c.id))

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	c.logger.Debug("WebSocket connected")
	c.run()
	c.logger.Debug("WebSocket disconnected")
	return nil
}

type connection struct {
	id      string
	lapp    string
	conn    *websocket.Conn
	handler *Handler
	ctx     context.Context
	logger  *zap.Logger
}

func (c *connection) run() {
	defer c.conn.Close()

	cfg := c.handler.cfg
	c.conn.SetReadLimit(cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(done)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("WebSocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		c.handler.metrics.RecordWSMessage("in", frameType(msgType))

		if !c.handleFrame(msgType, data) {
			return
		}
	}
}

// handleFrame forwards one frame to the lapp and reports whether the
// connection should stay open
func (c *connection) handleFrame(msgType int, data []byte) bool {
	handle, err := c.handler.lapps.Resolve(c.lapp)
	if err != nil {
		// The lapp went away under the connection
		c.sendError(err)
		c.close(websocket.CloseGoingAway, "lapp unavailable")
		return false
	}

	out, err := handle.Invoke(c.ctx, runtime.WSHandler, data)
	if err != nil {
		c.logger.Warn("ws_handler failed", zap.Error(err))
		if errors.Is(err, runtime.ErrClosed) {
			c.sendError(err)
			c.close(websocket.CloseGoingAway, "lapp unavailable")
			return false
		}
		return c.sendError(err)
	}
	if len(out) == 0 {
		return true
	}
	return c.write(msgType, out)
}

func (c *connection) keepalive(done <-chan struct{}) {
	ticker := time.NewTicker(c.handler.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.handler.cfg.WriteWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *connection) write(msgType int, data []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteWait))
	if err := c.conn.WriteMessage(msgType, data); err != nil {
		c.logger.Debug("WebSocket write failed", zap.Error(err))
		return false
	}
	c.handler.metrics.RecordWSMessage("out", frameType(msgType))
	return true
}

func (c *connection) sendError(err error) bool {
	_, body := response.Error(c.lapp, err)
	data, merr := sonic.Marshal(body)
	if merr != nil {
		return false
	}
	return c.write(websocket.TextMessage, data)
}

func (c *connection) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.handler.cfg.WriteWait))
}

func frameType(msgType int) string {
	if msgType == websocket.BinaryMessage {
		return "binary"
	}
	return "text"
}
