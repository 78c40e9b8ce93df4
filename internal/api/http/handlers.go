package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/GriffinCanCode/laplace/internal/api/response"
	"github.com/GriffinCanCode/laplace/internal/domain/lapps"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers serves the host routes: health and the /laplace management API
type Handlers struct {
	lapps           *lapps.Manager
	maxPackageBytes int64
	logger          *zap.Logger
}

// NewHandlers creates the management handler set. maxPackageBytes bounds an
// uploaded package; zero selects lapps.DefaultMaxPackageBytes.
func NewHandlers(manager *lapps.Manager, maxPackageBytes int64, logger *zap.Logger) *Handlers {
	if maxPackageBytes <= 0 {
		maxPackageBytes = lapps.DefaultMaxPackageBytes
	}
	return &Handlers{
		lapps:           manager,
		maxPackageBytes: maxPackageBytes,
		logger:          logger,
	}
}

// Health reports liveness and manager statistics
func (h *Handlers) Health(c *gin.Context) {
	stats := h.lapps.Stats()
	status := "healthy"
	if stats.Broken {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"lapps":  stats,
	})
}

// ListLapps lists every installed lapp
func (h *Handlers) ListLapps(c *gin.Context) {
	list, err := h.lapps.List()
	if err != nil {
		writeError(c, h.logger, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"lapps": list,
		"stats": h.lapps.Stats(),
	})
}

// GetLapp returns one lapp
func (h *Handlers) GetLapp(c *gin.Context) {
	name := c.Param("name")
	lapp, err := h.lapps.Get(name)
	if err != nil {
		writeError(c, h.logger, name, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lapp": lapp})
}

// InstallLapp installs a zip package sent as the request body
func (h *Handlers) InstallLapp(c *gin.Context) {
	// Spool to disk: zip needs random access and packages can be large
	spool, err := os.CreateTemp("", "laplace-upload-*.zip")
	if err != nil {
		writeError(c, h.logger, "", err)
		return
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	size, err := io.Copy(spool, io.LimitReader(c.Request.Body, h.maxPackageBytes+1))
	if err != nil {
		writeError(c, h.logger, "", fmt.Errorf("%w: %v", response.ErrBadRequest, err))
		return
	}
	if size > h.maxPackageBytes {
		writeError(c, h.logger, "", fmt.Errorf("%w: package limit is %d bytes", response.ErrTooLarge, h.maxPackageBytes))
		return
	}

	name, err := h.lapps.Install(context.WithoutCancel(c.Request.Context()), spool, size)
	if err != nil {
		writeError(c, h.logger, "", err)
		return
	}
	h.logger.Info("Lapp installed", zap.String("lapp", name), zap.Int64("bytes", size))
	h.respondLapp(c, http.StatusCreated, name)
}

// RemoveLapp deletes an unloaded lapp and its data
func (h *Handlers) RemoveLapp(c *gin.Context) {
	name := c.Param("name")
	if err := h.lapps.Remove(context.WithoutCancel(c.Request.Context()), name); err != nil {
		writeError(c, h.logger, name, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": name})
}

// EnableLapp marks a lapp enabled
func (h *Handlers) EnableLapp(c *gin.Context) {
	h.transition(c, func(_ context.Context, name string) error {
		return h.lapps.Enable(name)
	})
}

// DisableLapp disables a lapp, unloading it first when needed
func (h *Handlers) DisableLapp(c *gin.Context) {
	h.transition(c, h.lapps.Disable)
}

// LoadLapp instantiates an enabled lapp
func (h *Handlers) LoadLapp(c *gin.Context) {
	h.transition(c, h.lapps.Load)
}

// UnloadLapp tears down a loaded lapp
func (h *Handlers) UnloadLapp(c *gin.Context) {
	h.transition(c, h.lapps.Unload)
}

// StopGossip ends a lapp's gossip session
func (h *Handlers) StopGossip(c *gin.Context) {
	h.transition(c, h.lapps.StopGossip)
}

// Recover rebuilds the registry from disk after a failed mutation
func (h *Handlers) Recover(c *gin.Context) {
	n, err := h.lapps.Recover(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		writeError(c, h.logger, "", err)
		return
	}
	h.logger.Warn("Lapps manager recovered", zap.Int("lapps", n))
	c.JSON(http.StatusOK, gin.H{
		"recovered": n,
		"stats":     h.lapps.Stats(),
	})
}

// transition runs a lifecycle operation and answers with the lapp's new state
func (h *Handlers) transition(c *gin.Context, op func(ctx context.Context, name string) error) {
	name := c.Param("name")
	if err := op(context.WithoutCancel(c.Request.Context()), name); err != nil {
		writeError(c, h.logger, name, err)
		return
	}
	h.respondLapp(c, http.StatusOK, name)
}

func (h *Handlers) respondLapp(c *gin.Context, status int, name string) {
	lapp, err := h.lapps.Get(name)
	if err != nil {
		writeError(c, h.logger, name, err)
		return
	}
	c.JSON(status, gin.H{"lapp": lapp})
}

// Register mounts the management API on group
func (h *Handlers) Register(group *gin.RouterGroup) {
	group.GET("/lapps", h.ListLapps)
	group.POST("/lapps", h.InstallLapp)
	group.GET("/lapps/:name", h.GetLapp)
	group.DELETE("/lapps/:name", h.RemoveLapp)
	group.POST("/lapps/:name/enable", h.EnableLapp)
	group.POST("/lapps/:name/disable", h.DisableLapp)
	group.POST("/lapps/:name/load", h.LoadLapp)
	group.POST("/lapps/:name/unload", h.UnloadLapp)
	group.DELETE("/lapps/:name/gossip", h.StopGossip)
	group.POST("/recover", h.Recover)
}
