package http

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/laplace/internal/api/response"
	"github.com/GriffinCanCode/laplace/internal/domain/lapps"
	"github.com/GriffinCanCode/laplace/internal/runtime"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultMaxBodyBytes bounds a request body passed to http_handler
const DefaultMaxBodyBytes = 8 << 20

// forwardedHeaders are the request headers a lapp sees
var forwardedHeaders = []string{
	"Content-Type",
	"Accept",
	"Authorization",
	"Cookie",
	"User-Agent",
	"X-Requested-With",
}

// Lapps is the part of the lapps manager the gateway needs
type Lapps interface {
	Resolve(name string) (*lapps.Handle, error)
	Assets(name string) (lapps.Assets, error)
	StartGossip(ctx context.Context, name string) error
	StopGossip(ctx context.Context, name string) error
}

// WebSocket serves upgrade requests for a lapp
type WebSocket interface {
	Serve(w http.ResponseWriter, r *http.Request, lapp string) error
}

// Gateway routes /{lapp}/... requests to static assets, the lapp's
// http_handler, the WebSocket bridge and gossip control
type Gateway struct {
	lapps        Lapps
	ws           WebSocket
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewGateway creates a gateway. maxBodyBytes <= 0 selects DefaultMaxBodyBytes.
func NewGateway(l Lapps, ws WebSocket, maxBodyBytes int64, logger *zap.Logger) *Gateway {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Gateway{
		lapps:        l,
		ws:           ws,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// Handle dispatches a request. It is meant to be the router's NoRoute
// handler so host routes always win.
func (g *Gateway) Handle(c *gin.Context) {
	route, ok := Match(c.Request.Method, c.Request.URL.Path)
	if !ok {
		writeError(c, g.logger, "", response.ErrNotFound)
		return
	}

	switch route.Kind {
	case RouteIndex:
		g.serveIndex(c, route.Lapp)
	case RoutePage:
		g.servePage(c, route)
	case RouteAPI:
		g.serveAPI(c, route)
	case RouteWS:
		if err := g.ws.Serve(c.Writer, c.Request, route.Lapp); err != nil {
			writeError(c, g.logger, route.Lapp, err)
		}
	case RouteP2PStart:
		g.startGossip(c, route.Lapp)
	case RouteP2PStop:
		g.stopGossip(c, route.Lapp)
	}
}

func (g *Gateway) serveIndex(c *gin.Context, lapp string) {
	assets, err := g.lapps.Assets(lapp)
	if err != nil {
		writeError(c, g.logger, lapp, err)
		return
	}
	g.serveFile(c, lapp, filepath.Dir(assets.Index), filepath.Base(assets.Index))
}

func (g *Gateway) servePage(c *gin.Context, route Route) {
	assets, err := g.lapps.Assets(route.Lapp)
	if err != nil {
		writeError(c, g.logger, route.Lapp, err)
		return
	}

	rel, ok := strings.CutPrefix(route.Tail, "/"+assets.StaticDir+"/")
	if !ok {
		// Anything outside the static dir belongs to the lapp's own router
		g.serveFile(c, route.Lapp, filepath.Dir(assets.Index), filepath.Base(assets.Index))
		return
	}
	g.serveFile(c, route.Lapp, assets.Root, rel)
}

// serveFile serves name from dir. Names escaping dir, including through
// symlinks, are reported as not found.
func (g *Gateway) serveFile(c *gin.Context, lapp, dir, name string) {
	name = path.Clean(name)
	if name == "." || !fs.ValidPath(name) {
		writeError(c, g.logger, lapp, response.ErrNotFound)
		return
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		writeError(c, g.logger, lapp, response.ErrNotFound)
		return
	}
	defer root.Close()

	f, err := root.Open(filepath.FromSlash(name))
	if err != nil {
		writeError(c, g.logger, lapp, fmt.Errorf("%w: %s", response.ErrNotFound, name))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(c, g.logger, lapp, fmt.Errorf("%w: %s", response.ErrNotFound, name))
		return
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		detected, err := mimetype.DetectReader(f)
		if err != nil {
			writeError(c, g.logger, lapp, err)
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			writeError(c, g.logger, lapp, err)
			return
		}
		contentType = detected.String()
	}

	c.Header("Content-Type", contentType)
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

func (g *Gateway) serveAPI(c *gin.Context, route Route) {
	handle, err := g.lapps.Resolve(route.Lapp)
	if err != nil {
		writeError(c, g.logger, route.Lapp, err)
		return
	}

	body, err := readBody(c.Request.Body, g.maxBodyBytes)
	if err != nil {
		writeError(c, g.logger, route.Lapp, err)
		return
	}

	payload, err := runtime.EncodeHTTPRequest(apiRequest(c.Request, route, body))
	if err != nil {
		writeError(c, g.logger, route.Lapp, err)
		return
	}

	// A dropped client must not abort guest code midway
	ctx := context.WithoutCancel(c.Request.Context())
	out, err := handle.Invoke(ctx, runtime.HTTPHandler, payload)
	if err != nil {
		writeError(c, g.logger, route.Lapp, err)
		return
	}

	resp, err := runtime.DecodeHTTPResponse(out)
	if err != nil {
		writeError(c, g.logger, route.Lapp, err)
		return
	}

	writeAPIResponse(c, resp)
}

// apiRequest builds the http_handler envelope for r
func apiRequest(r *http.Request, route Route, body []byte) runtime.HTTPRequest {
	req := runtime.HTTPRequest{
		Method:  r.Method,
		Path:    route.Tail,
		Query:   r.URL.RawQuery,
		Headers: forwardHeaders(r.Header),
	}
	req.SetBody(body)
	return req
}

func writeAPIResponse(c *gin.Context, resp *runtime.HTTPResponse) {
	for key, value := range resp.Headers {
		c.Header(key, value)
	}
	data := resp.Payload()
	contentType := c.Writer.Header().Get("Content-Type")
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	c.Data(resp.Status, contentType, data)
}

func (g *Gateway) startGossip(c *gin.Context, lapp string) {
	if err := g.lapps.StartGossip(context.WithoutCancel(c.Request.Context()), lapp); err != nil {
		writeError(c, g.logger, lapp, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lapp": lapp, "gossip": true})
}

func (g *Gateway) stopGossip(c *gin.Context, lapp string) {
	if err := g.lapps.StopGossip(context.WithoutCancel(c.Request.Context()), lapp); err != nil {
		writeError(c, g.logger, lapp, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lapp": lapp, "gossip": false})
}

func forwardHeaders(h http.Header) map[string]string {
	headers := make(map[string]string, len(forwardedHeaders))
	for _, key := range forwardedHeaders {
		if value := h.Get(key); value != "" {
			headers[strings.ToLower(key)] = value
		}
	}
	return headers
}

// readBody reads at most limit bytes, failing with ErrTooLarge beyond that
func readBody(body io.Reader, limit int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", response.ErrBadRequest, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit is %d bytes", response.ErrTooLarge, limit)
	}
	return data, nil
}
