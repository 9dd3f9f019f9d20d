// Package config defines the gateway configuration and helpers to load it
// from a YAML file. The configuration is read once at startup and swapped
// atomically when the watcher observes a change; per-request code only ever
// reads a snapshot.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the gateway.
type Config struct {
	// Host is the address the inbound HTTP server binds to.
	Host string `yaml:"host"`

	// Port is the port the inbound HTTP server listens on.
	Port int `yaml:"port"`

	// UpstreamBaseURL is the base URL of the Anthropic-compatible upstream
	// aggregator, e.g. "https://api.example.com".
	UpstreamBaseURL string `yaml:"upstream-base-url"`

	// IdentityHost is the host substring (matched case-insensitively) for
	// which identity normalization is applied.
	IdentityHost string `yaml:"identity-host"`

	// BillingText, when non-empty, is prepended as the billing system block
	// during identity normalization and used as the billing-envelope sentinel.
	BillingText string `yaml:"billing-text"`

	// ProxyURL routes upstream traffic through a forward proxy
	// (socks5://, http:// or https://).
	ProxyURL string `yaml:"proxy-url"`

	// TLSFingerprint enables the uTLS transport that mimics a browser TLS
	// ClientHello. When set, it is used for all upstream traffic, not only
	// for the identity-sensitive host.
	TLSFingerprint bool `yaml:"tls-fingerprint"`

	// RequestLog logs the raw inbound body of each /v1/messages request at
	// debug level. Response bodies are not logged.
	RequestLog bool `yaml:"request-log"`

	// Debug lowers the log level to debug.
	Debug bool `yaml:"debug"`

	// LoggingToFile redirects logs to a rotating file instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogDir is the directory for rotating log files when LoggingToFile is set.
	LogDir string `yaml:"log-dir"`
}

// LoadConfig reads and parses the YAML configuration file at path and applies
// defaults for unset fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 3180
	}
	if strings.TrimSpace(c.UpstreamBaseURL) == "" {
		c.UpstreamBaseURL = "https://api.anthropic.com"
	}
	c.UpstreamBaseURL = strings.TrimRight(strings.TrimSpace(c.UpstreamBaseURL), "/")
	if strings.TrimSpace(c.IdentityHost) == "" {
		c.IdentityHost = "api.anthropic.com"
	}
}

// Store holds the current configuration and allows lock-free reads with
// atomic replacement on reload.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a store seeded with cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Current returns the configuration snapshot in effect.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Replace swaps in a new configuration snapshot.
func (s *Store) Replace(cfg *Config) {
	if cfg == nil {
		return
	}
	s.current.Store(cfg)
}
