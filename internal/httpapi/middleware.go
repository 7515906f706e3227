package httpapi

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"appealbot/internal/metrics"
	logx "appealbot/pkg/logx"
)

const (
	requestIDHeader = "X-Request-ID"
	sessionHeader   = "X-Session-Token"

	ctxLogger = "logger"
	ctxUser   = "user"
)

// requestID reuses X-Request-ID or generates one, and attaches a request
// scoped logger.
func requestID(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Set(ctxLogger, log.With(logx.String("rid", rid)))
		c.Next()
	}
}

func loggerFrom(c *gin.Context) logx.Logger {
	if v, ok := c.Get(ctxLogger); ok {
		if l, ok := v.(logx.Logger); ok {
			return l
		}
	}
	return logx.Nop()
}

// accessLog logs one line per request: 5xx at ERROR, 4xx at WARN, the rest
// at DEBUG.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("route", routeOf(c)),
			logx.Int("status", status),
			logx.Duration("dur", time.Since(start)),
			logx.String("ip", c.ClientIP()),
		}
		lg := loggerFrom(c)
		switch {
		case status >= http.StatusInternalServerError:
			lg.Error("http request", fields...)
		case status >= http.StatusBadRequest:
			lg.Warn("http request", fields...)
		default:
			lg.Debug("http request", fields...)
		}
	}
}

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				loggerFrom(c).Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				fail(c, http.StatusInternalServerError, codeInternal, "internal error")
			}
		}()
		c.Next()
	}
}

func observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveHTTP(c.Request.Method, routeOf(c), strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// routeOf prefers the route template so labels stay low-cardinality.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
