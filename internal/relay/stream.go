// Package relay orchestrates one upstream exchange: proactive conversation
// cleanup, identity normalization, dispatch, error classification, bounded
// overload retry and a single reactive orphan repair, with streaming
// responses passed through untouched.
package relay

import (
	"net/http"
	"strings"
)

// IsStreamingResponse reports whether resp must be treated as a live stream.
// Streaming bodies are never read, cloned, or buffered by the relay; the one
// exception is the orphan-detection read of a 400 body.
func IsStreamingResponse(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/event-stream") {
		return true
	}
	for _, encoding := range resp.TransferEncoding {
		if strings.EqualFold(encoding, "chunked") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(resp.Header.Get("Transfer-Encoding")), "chunked")
}
