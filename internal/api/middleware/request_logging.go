// Package middleware provides HTTP middleware for the gateway's inbound
// server: request-id assignment and request/latency logging.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/relaymesh/ccgate/internal/logging"
)

// RequestID assigns a short random identifier to every request and stores it
// on both the gin context and the request context, so downstream log lines
// correlate.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := logging.NewRequestID()
		logging.SetGinRequestID(c, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// RequestLogging logs one line per completed request with method, path,
// status and latency. Enabled unconditionally at debug level; the caller
// decides the log level globally.
func RequestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		entry := log.WithField(logging.FieldRequestID, logging.GetGinRequestID(c))
		entry.Debugf("%s %s -> %d (%s)", method, path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
