package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/relaymesh/ccgate/internal/config"
	"github.com/relaymesh/ccgate/internal/logging"
	"github.com/relaymesh/ccgate/internal/relay"
	"github.com/relaymesh/ccgate/internal/upstream"
)

// hopByHopHeaders are stripped from both directions; they are connection
// properties, not request properties.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Relay serves the inbound API: the orchestrated messages endpoint plus a
// plain forwarding fallback for every other upstream path.
type Relay struct {
	store      *config.Store
	orch       *relay.Orchestrator
	dispatcher *upstream.Dispatcher
}

// NewRelay builds the handler set.
func NewRelay(store *config.Store, orch *relay.Orchestrator, dispatcher *upstream.Dispatcher) *Relay {
	return &Relay{store: store, orch: orch, dispatcher: dispatcher}
}

// Messages handles POST /v1/messages. Message-bearing JSON bodies go through
// the full relay sequence; anything else is dispatched once, untouched.
func (h *Relay) Messages(c *gin.Context) {
	ctx := c.Request.Context()
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.writeError(c, http.StatusBadRequest, "failed to read request body: "+err.Error())
		return
	}

	cfg := h.store.Current()
	target := cfg.UpstreamBaseURL + c.Request.URL.RequestURI()
	header := outboundHeader(c.Request.Header)
	if cfg.RequestLog {
		logging.WithContext(ctx).Debugf("inbound %s %s body: %s", c.Request.Method, c.Request.URL.Path, raw)
	}

	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() || !parsed.Get("messages").Exists() {
		// Malformed or message-less body: one direct dispatch, no cleanup,
		// no retry.
		resp, errDo := h.dispatcher.Do(ctx, c.Request.Method, target, header, raw)
		if errDo != nil {
			h.writeDispatchError(c, errDo)
			return
		}
		forwardResponse(c, resp)
		return
	}

	resp, meta, err := h.orch.ExecuteWithCleanup(ctx, c.Request.Method, target, header, raw)
	if err != nil {
		h.writeDispatchError(c, err)
		return
	}
	logging.WithContext(ctx).Debugf("relay outcome=%s retries=%d proactive=%v reactive=%v",
		meta.Outcome, meta.RetryCount, meta.ProactiveRemovedIDs, meta.RemovedToolUseIDs)
	forwardResponse(c, resp)
}

// Forward passes any other upstream path through unchanged, streaming the
// request body without buffering.
func (h *Relay) Forward(c *gin.Context) {
	if !strings.HasPrefix(c.Request.URL.Path, "/v1/") {
		c.Status(http.StatusNotFound)
		_, _ = c.Writer.Write(BuildErrorResponseBody(http.StatusNotFound, "not found"))
		return
	}

	target := h.store.Current().UpstreamBaseURL + c.Request.URL.RequestURI()
	header := outboundHeader(c.Request.Header)

	var body io.Reader
	if c.Request.Body != nil && c.Request.Method != http.MethodGet {
		body = c.Request.Body
	}
	resp, err := h.dispatcher.DoStream(c.Request.Context(), c.Request.Method, target, header, body)
	if err != nil {
		h.writeDispatchError(c, err)
		return
	}
	forwardResponse(c, resp)
}

// writeDispatchError maps a transport failure to 502 and swallows client
// cancellation: a client that went away gets no reply.
func (h *Relay) writeDispatchError(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) {
		c.Abort()
		return
	}
	h.writeError(c, http.StatusBadGateway, "upstream request failed: "+err.Error())
}

func (h *Relay) writeError(c *gin.Context, status int, message string) {
	logging.WithContext(c.Request.Context()).Errorf("%s", message)
	c.Writer.Header().Set("Content-Type", "application/json")
	c.Status(status)
	_, _ = c.Writer.Write(BuildErrorResponseBody(status, message))
}

// outboundHeader clones the inbound headers minus hop-by-hop fields, Host and
// Content-Length; framing is recomputed at dispatch.
func outboundHeader(in http.Header) http.Header {
	out := in.Clone()
	for _, key := range hopByHopHeaders {
		out.Del(key)
	}
	out.Del("Host")
	out.Del("Content-Length")
	return out
}

// forwardResponse copies the upstream response to the client, flushing after
// every chunk so event streams stay live. The body is copied, never
// buffered.
func forwardResponse(c *gin.Context, resp *http.Response) {
	defer func() {
		_ = resp.Body.Close()
	}()

	outHeader := c.Writer.Header()
	for key, values := range resp.Header {
		if isHopByHop(key) {
			continue
		}
		outHeader.Del(key)
		for _, value := range values {
			outHeader.Add(key, value)
		}
	}
	c.Status(resp.StatusCode)

	_, _ = io.Copy(flushWriter{c.Writer}, resp.Body)
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, key) {
			return true
		}
	}
	return false
}

// flushWriter flushes after every write so SSE chunks reach the client as
// they arrive.
type flushWriter struct {
	w gin.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.w.Flush()
	return n, err
}
