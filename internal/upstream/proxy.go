package upstream

import (
	"context"
	"net"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// transportForProxy builds an HTTP transport honoring the configured forward
// proxy. SOCKS5 proxies (with optional userinfo auth) and HTTP(S) proxies are
// supported; an empty or unparsable proxy URL yields a direct transport.
func transportForProxy(proxyURL string) *http.Transport {
	transport := &http.Transport{ForceAttemptHTTP2: true}
	if proxyURL == "" {
		return transport
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		log.Errorf("upstream: invalid proxy url %q: %v", proxyURL, err)
		return transport
	}
	switch parsed.Scheme {
	case "socks5":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("upstream: create SOCKS5 dialer failed: %v", errSOCKS5)
			return transport
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
				return contextDialer.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	default:
		log.Errorf("upstream: unsupported proxy scheme %q", parsed.Scheme)
	}
	return transport
}

// proxyDialer returns the dialer used by the uTLS transport, routed through
// the configured proxy when one is set.
func proxyDialer(proxyURL string) proxy.Dialer {
	if proxyURL == "" {
		return proxy.Direct
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		log.Errorf("upstream: invalid proxy url %q: %v", proxyURL, err)
		return proxy.Direct
	}
	dialer, err := proxy.FromURL(parsed, proxy.Direct)
	if err != nil {
		log.Errorf("upstream: proxy dialer for %q failed: %v", proxyURL, err)
		return proxy.Direct
	}
	return dialer
}
