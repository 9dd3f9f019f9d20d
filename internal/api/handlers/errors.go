// Package handlers implements the inbound HTTP surface of the gateway: the
// orchestrated messages endpoint and the plain forwarding fallback for every
// other upstream path.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ErrorResponse is the Anthropic-style error envelope the gateway emits for
// failures it produces itself (transport errors, unreadable requests).
// Upstream error bodies are never rewrapped.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
	Type  string      `json:"type"`
}

// ErrorDetail carries the error type and human-readable message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// BuildErrorResponseBody builds an error body for the given status. If
// errText is already valid JSON it is returned as-is so upstream payloads
// survive untouched.
func BuildErrorResponseBody(status int, errText string) []byte {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	if strings.TrimSpace(errText) == "" {
		errText = http.StatusText(status)
	}

	trimmed := strings.TrimSpace(errText)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return []byte(trimmed)
	}

	errType := "invalid_request_error"
	switch {
	case status == http.StatusUnauthorized:
		errType = "authentication_error"
	case status == http.StatusForbidden:
		errType = "permission_error"
	case status == http.StatusTooManyRequests:
		errType = "rate_limit_error"
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		errType = "api_error"
	case status >= http.StatusInternalServerError:
		errType = "api_error"
	}

	payload, err := json.Marshal(ErrorResponse{
		Type: "error",
		Error: ErrorDetail{
			Type:    errType,
			Message: errText,
		},
	})
	if err != nil {
		return []byte(fmt.Sprintf(`{"type":"error","error":{"type":"api_error","message":%q}}`, errText))
	}
	return payload
}
