package http

import (
	"net/http"

	"github.com/GriffinCanCode/laplace/internal/api/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError renders err in the shared error shape and aborts the chain
func writeError(c *gin.Context, logger *zap.Logger, lapp string, err error) {
	status, body := response.Error(lapp, err)
	if status >= http.StatusInternalServerError {
		logger.Warn("Request failed",
			zap.String("lapp", lapp),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	if c.Writer.Written() {
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(status, body)
}
