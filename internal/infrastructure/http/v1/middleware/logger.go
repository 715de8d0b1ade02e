package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pharmapos/pkg/logger"
)

// Logger logs one line per request. Probes and scrapes are skipped;
// 5xx responses log at error level, other 4xx at warn.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/health/") || path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		l := log.WithContext(c.Request.Context())
		write := l.Infow
		switch {
		case status >= http.StatusInternalServerError:
			write = l.Errorw
		case status >= http.StatusBadRequest && status != http.StatusNotFound:
			write = l.Warnw
		}

		kv := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "error", c.Errors.Last().Error())
		}
		write("http request", kv...)
	}
}
