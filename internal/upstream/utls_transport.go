package upstream

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	tls "github.com/refraction-networking/utls"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/singleflight"

	"github.com/relaymesh/ccgate/internal/logging"
)

// hostConnPool keeps at most one HTTP/2 connection per upstream host, dialed
// with a browser TLS ClientHello so front doors that fingerprint TLS cannot
// tell the gateway from the first-party CLI. Dials to the same host are
// deduplicated: concurrent requests share the in-flight dial instead of
// racing their own.
type hostConnPool struct {
	mu    sync.RWMutex
	conns map[string]*http2.ClientConn

	dials  singleflight.Group
	dialer proxy.Dialer

	// insecureSkipVerify disables certificate verification. Only tests with
	// self-signed upstreams set it.
	insecureSkipVerify bool
}

func newHostConnPool(dialer proxy.Dialer) *hostConnPool {
	if dialer == nil {
		dialer = proxy.Direct
	}
	return &hostConnPool{
		conns:  make(map[string]*http2.ClientConn),
		dialer: dialer,
	}
}

// acquire returns a live connection for host, dialing one if the cache has
// none. The singleflight group guarantees one dial per host at a time; every
// waiter gets the same connection or the same error.
func (p *hostConnPool) acquire(host, addr string) (*http2.ClientConn, error) {
	if conn := p.cached(host); conn != nil {
		return conn, nil
	}
	v, err, _ := p.dials.Do(host, func() (any, error) {
		// A waiter that lost the race may find the winner's connection
		// already cached.
		if conn := p.cached(host); conn != nil {
			return conn, nil
		}
		conn, errDial := p.dialHTTP2(host, addr)
		if errDial != nil {
			return nil, errDial
		}
		p.mu.Lock()
		p.conns[host] = conn
		p.mu.Unlock()
		log.Debugf("upstream: new fingerprinted connection to %s", host)
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*http2.ClientConn), nil
}

// cached returns the pooled connection for host when it can still take
// requests, nil otherwise. Stale connections are left for evict/redial.
func (p *hostConnPool) cached(host string) *http2.ClientConn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if conn, ok := p.conns[host]; ok && conn.CanTakeNewRequest() {
		return conn
	}
	return nil
}

// evict drops conn from the pool if it is still the cached entry for host.
// Reports whether an entry was removed; a newer connection installed by a
// concurrent redial is never displaced.
func (p *hostConnPool) evict(host string, conn *http2.ClientConn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.conns[host]; ok && cached == conn {
		delete(p.conns, host)
		return true
	}
	return false
}

// dialHTTP2 opens a TCP connection (optionally through the forward proxy),
// performs the uTLS handshake with a Firefox ClientHello, and binds an
// HTTP/2 client connection over it.
func (p *hostConnPool) dialHTTP2(host, addr string) (*http2.ClientConn, error) {
	rawConn, err := p.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("upstream: dial %s: %w", addr, err)
	}

	serverName := host
	if net.ParseIP(host) != nil {
		// SNI carries DNS names only; IP-literal targets handshake without it.
		serverName = ""
	}
	tlsConfig := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: p.insecureSkipVerify,
	}
	tlsConn := tls.UClient(rawConn, tlsConfig, tls.HelloFirefox_Auto)
	if err = tlsConn.Handshake(); err != nil {
		_ = rawConn.Close()
		return nil, fmt.Errorf("upstream: tls handshake with %s: %w", host, err)
	}

	conn, err := (&http2.Transport{}).NewClientConn(tlsConn)
	if err != nil {
		_ = tlsConn.Close()
		return nil, fmt.Errorf("upstream: http2 setup for %s: %w", host, err)
	}
	return conn, nil
}

// fingerprintTransport is the http.RoundTripper the dispatcher uses when TLS
// fingerprinting is enabled; it fronts the host connection pool.
type fingerprintTransport struct {
	pool *hostConnPool
}

func newFingerprintTransport(dialer proxy.Dialer) *fingerprintTransport {
	return &fingerprintTransport{pool: newHostConnPool(dialer)}
}

// RoundTrip implements http.RoundTripper. A connection that fails mid-flight
// is evicted so the next request redials; the failed request is not retried
// and its error is returned to the caller.
func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	addr := req.URL.Host
	if _, _, errSplit := net.SplitHostPort(addr); errSplit != nil {
		addr = net.JoinHostPort(addr, "443")
	}

	conn, err := t.pool.acquire(host, addr)
	if err != nil {
		return nil, err
	}

	resp, err := conn.RoundTrip(req)
	if err != nil {
		if t.pool.evict(host, conn) {
			logging.WithContext(req.Context()).Debugf("upstream: evicted broken connection to %s: %v", host, err)
		}
		return nil, err
	}
	return resp, nil
}
