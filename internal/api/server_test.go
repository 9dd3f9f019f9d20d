package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/relaymesh/ccgate/internal/config"
	"github.com/relaymesh/ccgate/internal/identity"
	"github.com/relaymesh/ccgate/internal/relay"
	"github.com/relaymesh/ccgate/internal/upstream"
)

// newTestGateway stands up a scripted upstream and a fully wired engine
// pointing at it.
func newTestGateway(t *testing.T, upstreamHandler http.HandlerFunc) (http.Handler, func()) {
	t.Helper()
	server := httptest.NewServer(upstreamHandler)

	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	store := config.NewStore(&config.Config{
		UpstreamBaseURL: server.URL,
		IdentityHost:    parsed.Host,
	})

	normalizer := identity.NewNormalizer(identity.NewCatalog(""), parsed.Host)
	dispatcher := upstream.NewDispatcherWithClient(server.Client())
	orch := relay.NewOrchestrator(dispatcher, normalizer)

	return NewEngine(store, orch, dispatcher), server.Close
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGateway_MessagesNormalizedAndForwarded(t *testing.T) {
	var seenBody []byte
	var seenHeader http.Header
	engine, closeUpstream := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		seenHeader = r.Header.Clone()
		seenBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_ok"}`))
	})
	defer closeUpstream()

	body := `{"model":"claude-sonnet-4","system":"You are a helpful assistant.","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("x-api-key", "sk-test")

	rec := serve(engine, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != `{"id":"msg_ok"}` {
		t.Fatalf("client body = %s, want upstream body verbatim", got)
	}

	if got := seenHeader.Get("User-Agent"); !strings.HasPrefix(got, "claude-cli/") {
		t.Fatalf("upstream user-agent = %q, want canonical CLI value", got)
	}
	if got := seenHeader.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("upstream authorization = %q", got)
	}
	if got := gjson.GetBytes(seenBody, "system.0.text").String(); got != identity.IdentityPrefix {
		t.Fatalf("upstream system.0.text = %q, want identity sentence", got)
	}
	if got := int(gjson.GetBytes(seenBody, "max_tokens").Int()); got != 32000 {
		t.Fatalf("upstream max_tokens = %d, want 32000", got)
	}
}

func TestGateway_OrphanCleanupBeforeUpstream(t *testing.T) {
	var seenBody []byte
	engine, closeUpstream := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		seenBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	defer closeUpstream()

	body := `{"model":"claude-sonnet-4","messages":[` +
		`{"role":"assistant","content":[{"type":"tool_use","id":"toolu_A","name":"read","input":{}}]},` +
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_A"},{"type":"tool_result","tool_use_id":"toolu_GHOST"}]}` +
		`]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := serve(engine, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := int(gjson.GetBytes(seenBody, "messages.1.content.#").Int()); got != 1 {
		t.Fatalf("upstream second message has %d blocks, want 1 after cleanup", got)
	}
}

func TestGateway_NonJSONBodyDispatchedOnce(t *testing.T) {
	calls := 0
	engine, closeUpstream := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"not json"}}`))
	})
	defer closeUpstream()

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("not-json"))
	rec := serve(engine, req)

	if calls != 1 {
		t.Fatalf("upstream calls = %d, want exactly 1 for malformed body", calls)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want upstream 400 surfaced", rec.Code)
	}
}

func TestGateway_OtherPathsForwarded(t *testing.T) {
	engine, closeUpstream := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	defer closeUpstream()

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := serve(engine, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"data":[]}` {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestGateway_EventStreamPassThrough(t *testing.T) {
	engine, closeUpstream := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: message_start\ndata: {}\n\n"))
	})
	defer closeUpstream()

	body := `{"model":"claude-sonnet-4","stream":true,"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := serve(engine, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/event-stream") {
		t.Fatalf("content-type = %q, want event stream", got)
	}
	if got := rec.Body.String(); got != "event: message_start\ndata: {}\n\n" {
		t.Fatalf("stream body altered: %q", got)
	}
}

func TestGateway_UnknownPathIs404(t *testing.T) {
	engine, closeUpstream := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("upstream must not be called for non-API paths")
	})
	defer closeUpstream()

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec := serve(engine, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
