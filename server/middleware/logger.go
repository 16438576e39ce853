package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andydunstall/gossamer/pkg/log"
)

// NewLogger logs each request at debug level.
func NewLogger(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		// Process request
		c.Next()

		logger.Debug(
			"http request",
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client-ip", c.ClientIP()),
			zap.Int("resp-size", c.Writer.Size()),
		)
	}
}
