package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/gin-gonic/gin"
)

type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// ginRequestIDKey is the gin context key under which the middleware stores
// the per-request identifier.
const ginRequestIDKey = "REQUEST_ID"

// FieldRequestID is the logrus data field the formatter renders as the
// request-id column. WithContext attaches it; emitters that bypass contexts
// can set it directly.
const FieldRequestID = "request_id"

// NewRequestID returns a short random identifier used to correlate log lines
// belonging to one inbound request.
func NewRequestID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b[:])
}

// WithRequestID stores the request ID in the context for downstream loggers.
func WithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context, or "" when absent.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// SetGinRequestID stores the request ID on the gin context.
func SetGinRequestID(c *gin.Context, id string) {
	if c == nil || id == "" {
		return
	}
	c.Set(ginRequestIDKey, id)
}

// GetGinRequestID retrieves the request ID from the gin context, or "" when absent.
func GetGinRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Get(ginRequestIDKey); ok {
		if id, okStr := v.(string); okStr {
			return id
		}
	}
	return ""
}
