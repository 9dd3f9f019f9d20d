package identity

import (
	"net/http"
	"strings"
)

// fingerprintBlocklist lists browser-originated headers that would betray a
// non-CLI caller to the upstream. They are always removed.
var fingerprintBlocklist = []string{
	"sec-ch-ua",
	"sec-ch-ua-platform",
	"sec-ch-ua-mobile",
	"sec-fetch-site",
	"sec-fetch-mode",
	"sec-fetch-dest",
	"accept-language",
	"priority",
	"origin",
	"referer",
}

// headerPair keeps table iteration deterministic.
type headerPair struct {
	key   string
	value string
}

// protocolHeaders are always forced to the table value; the upstream rejects
// requests where these deviate from what the CLI sends.
var protocolHeaders = []headerPair{
	{"accept", "application/json"},
	{"accept-encoding", "gzip, deflate, br, zstd"},
	{"anthropic-dangerous-direct-browser-access", "true"},
	{"anthropic-version", "2023-06-01"},
	{"x-app", "cli"},
}

// cliFingerprintHeaders describe the canonical CLI build. For a request that
// already came from the real CLI the caller's own values are preserved, since
// overwriting them with a fixed version invites a mismatch check upstream;
// for everyone else they are overwritten.
var cliFingerprintHeaders = []headerPair{
	{"user-agent", "claude-cli/1.0.83 (external, cli)"},
	{"x-stainless-lang", "js"},
	{"x-stainless-package-version", "0.55.1"},
	{"x-stainless-runtime", "node"},
	{"x-stainless-runtime-version", "v24.3.0"},
	{"x-stainless-os", "MacOS"},
	{"x-stainless-arch", "arm64"},
	{"x-stainless-retry-count", "0"},
	{"x-stainless-timeout", "60"},
	{"x-stainless-helper-method", "stream"},
}

// MergeBetaFlags merges the client-negotiated anthropic-beta list with the
// rule's required flags. Existing flags keep their order and are never
// dropped; required flags not already present are appended in declaration
// order. The result contains no duplicates.
func MergeBetaFlags(existing string, required []string) string {
	var ordered []string
	seen := make(map[string]struct{})
	add := func(flag string) {
		flag = strings.TrimSpace(flag)
		if flag == "" {
			return
		}
		if _, ok := seen[flag]; ok {
			return
		}
		seen[flag] = struct{}{}
		ordered = append(ordered, flag)
	}
	for _, flag := range strings.Split(existing, ",") {
		add(flag)
	}
	for _, flag := range required {
		add(flag)
	}
	return strings.Join(ordered, ",")
}

// applyFingerprintHygiene strips browser fingerprint headers and installs the
// CLI identity header tables. Protocol-critical headers are always forced;
// fingerprint headers are preserved for genuine CLI callers and overwritten
// otherwise. Headers absent from the request are always filled from the table.
func applyFingerprintHygiene(header http.Header, isCli bool) {
	for _, key := range fingerprintBlocklist {
		header.Del(key)
	}
	for _, pair := range protocolHeaders {
		header.Set(pair.key, pair.value)
	}
	for _, pair := range cliFingerprintHeaders {
		if isCli && strings.TrimSpace(header.Get(pair.key)) != "" {
			continue
		}
		header.Set(pair.key, pair.value)
	}
}

// normalizeAuthorization promotes a bare x-api-key into the Bearer form the
// aggregator expects. A client-provided authorization header wins.
func normalizeAuthorization(header http.Header) {
	apiKey := strings.TrimSpace(header.Get("x-api-key"))
	if apiKey == "" {
		return
	}
	if strings.TrimSpace(header.Get("authorization")) != "" {
		return
	}
	header.Set("authorization", "Bearer "+apiKey)
	header.Del("x-api-key")
}
