package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const skipGinLogKey = "__gin_skip_request_logging__"

// GinLogrusLogger returns a Gin middleware handler that routes request logs
// through logrus. Every response carries an X-Request-Id header, either
// propagated from the caller or generated here, and the same id lands in
// the structured log fields.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := strings.TrimSpace(c.Request.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", id)

		c.Next()

		if c.GetBool(skipGinLogKey) {
			return
		}
		emitRequestLog(c, id, time.Since(start))
	}
}

// emitRequestLog writes one line per finished request. Latency is truncated
// so the column stays readable: sub-minute requests show milliseconds,
// anything slower whole seconds.
func emitRequestLog(c *gin.Context, requestID string, latency time.Duration) {
	if latency > time.Minute {
		latency = latency.Truncate(time.Second)
	} else {
		latency = latency.Truncate(time.Millisecond)
	}

	path := c.Request.URL.Path
	if q := c.Request.URL.RawQuery; q != "" {
		path += "?" + q
	}
	status := c.Writer.Status()
	method := c.Request.Method
	clientIP := c.ClientIP()

	line := fmt.Sprintf("[GIN] %s | %3d | %13v | %15s | %-7s %q",
		time.Now().Format("2006/01/02 - 15:04:05"), status, latency, clientIP, method, path)
	if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
		line += " | " + msg
	}

	entry := log.WithFields(log.Fields{
		"status":     status,
		"latency_ms": latency.Milliseconds(),
		"client_ip":  clientIP,
		"method":     method,
		"path":       path,
		"request_id": requestID,
	})
	switch {
	case status >= http.StatusInternalServerError:
		entry.Error(line)
	case status >= http.StatusBadRequest:
		entry.Warn(line)
	default:
		entry.Info(line)
	}
}

// GinLogrusRecovery returns a Gin middleware handler that turns panics into
// logged 500 responses instead of dropped connections. The panic value and
// stack trace go to the log, never to the client.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithFields(log.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// SkipGinRequestLogging marks the context so GinLogrusLogger stays silent
// for this request. Probe endpoints use it to keep the log readable.
func SkipGinRequestLogging(c *gin.Context) {
	if c == nil {
		return
	}
	c.Set(skipGinLogKey, true)
}
