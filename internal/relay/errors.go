package relay

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/relaymesh/ccgate/internal/upstream"
)

// Classification of a non-2xx upstream response.
type Classification int

const (
	// ClassOther covers every response the relay has no special handling for.
	ClassOther Classification = iota
	// ClassOverload marks a transient capacity rejection worth retrying.
	ClassOverload
	// ClassOrphan marks a 400 citing dangling tool_use_ids.
	ClassOrphan
)

// ErrorClass is the classifier verdict. OrphanIDs is non-empty exactly when
// Kind is ClassOrphan, ordered as cited by the upstream.
type ErrorClass struct {
	Kind      Classification
	OrphanIDs []string
}

// overloadStatuses are the statuses the aggregator uses for capacity
// rejections. 502 is included: the front door emits it for the same
// transient condition.
var overloadStatuses = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	529:                            true,
}

// overloadPhrases are matched case-insensitively against the error message.
// The first entry is the aggregator's Chinese "load limit reached" phrase.
var overloadPhrases = []string{
	"负载已经达到上限",
	"overload",
	"rate limit",
	"capacity",
	"too many requests",
}

// Orphan citation formats. The primary provider names one toolu_ id per
// message; the secondary provider parenthesizes the id. Identifiers are
// ASCII, so the character classes stay byte-oriented.
var (
	orphanPatternPrimary   = regexp.MustCompile("unexpected `tool_use_id` found in `tool_result` blocks: (toolu_[0-9A-Za-z_]+)")
	orphanPatternSecondary = regexp.MustCompile(`tool result's tool id\(([^)]+)\) not found`)
)

// classifyResponse inspects a non-2xx response and decides how the relay
// should proceed. It never fails: unparsable bodies classify as ClassOther.
// When a body is consumed for inspection it is restored, so the response
// stays forwardable byte-for-byte. Streaming-shaped responses are only read
// on the 400 orphan-detection path.
func classifyResponse(resp *http.Response) ErrorClass {
	if resp == nil {
		return ErrorClass{Kind: ClassOther}
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		message := gjson.GetBytes(peekBody(resp), "error.message").String()
		if ids := extractOrphanIDs(message); len(ids) > 0 {
			return ErrorClass{Kind: ClassOrphan, OrphanIDs: ids}
		}
		return ErrorClass{Kind: ClassOther}

	case overloadStatuses[resp.StatusCode]:
		if IsStreamingResponse(resp) {
			return ErrorClass{Kind: ClassOther}
		}
		if isOverloadMessage(errorMessage(peekBody(resp))) {
			return ErrorClass{Kind: ClassOverload}
		}
		return ErrorClass{Kind: ClassOther}
	}
	return ErrorClass{Kind: ClassOther}
}

// peekBody reads the full response body for inspection and restores it so
// downstream forwarding sees the original bytes. The returned slice is
// decompressed according to Content-Encoding; the restored body is not.
func peekBody(resp *http.Response) []byte {
	if resp.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || closeErr != nil {
		return nil
	}
	return upstream.DecodeBytes(raw, resp.Header.Get("Content-Encoding"))
}

// errorMessage extracts the human-readable message from an error body:
// .error.message, then .message, then the raw body itself.
func errorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	if msg := gjson.GetBytes(body, "message"); msg.Exists() {
		return msg.String()
	}
	return string(body)
}

func isOverloadMessage(message string) bool {
	lowered := strings.ToLower(message)
	for _, phrase := range overloadPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// extractOrphanIDs collects cited identifiers, primary provider format
// first, preserving match order.
func extractOrphanIDs(message string) []string {
	var ids []string
	for _, match := range orphanPatternPrimary.FindAllStringSubmatch(message, -1) {
		ids = append(ids, match[1])
	}
	for _, match := range orphanPatternSecondary.FindAllStringSubmatch(message, -1) {
		ids = append(ids, match[1])
	}
	return ids
}
