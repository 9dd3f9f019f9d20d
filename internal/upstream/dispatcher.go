package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
)

// Dispatcher performs single upstream round-trips. It never retries and never
// inspects bodies; callers own both concerns.
type Dispatcher struct {
	client *http.Client
}

// Options configure the outbound client.
type Options struct {
	// ProxyURL routes traffic through a forward proxy (socks5/http/https).
	ProxyURL string

	// TLSFingerprint dials with a browser TLS ClientHello instead of the Go
	// default, defeating TLS fingerprinting at the upstream front door.
	TLSFingerprint bool
}

// NewDispatcher builds a dispatcher with the given outbound options.
func NewDispatcher(opts Options) *Dispatcher {
	var rt http.RoundTripper
	if opts.TLSFingerprint {
		rt = newFingerprintTransport(proxyDialer(opts.ProxyURL))
	} else {
		rt = transportForProxy(opts.ProxyURL)
	}
	return &Dispatcher{client: &http.Client{Transport: rt}}
}

// NewDispatcherWithClient builds a dispatcher around an explicit client.
// Used by tests to point at an httptest server.
func NewDispatcherWithClient(client *http.Client) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Dispatcher{client: client}
}

// Do performs one round-trip with the given body bytes. A nil body sends no
// request body.
func (d *Dispatcher) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	return d.DoStream(ctx, method, url, header, reader)
}

// DoStream performs one round-trip with a streaming request body, for
// pass-through paths that must not buffer uploads.
func (d *Dispatcher) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		// Framing is recomputed by the transport from the actual body.
		if strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return d.client.Do(req)
}
