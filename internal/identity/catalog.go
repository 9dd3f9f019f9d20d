// Package identity rewrites request headers and bodies so that generic
// clients are indistinguishable from the first-party CLI when talking to an
// identity-sensitive upstream. The rewrite is dispatched on the request's
// model field; see rules.go for the dispatch table and normalize.go for the
// rewrite itself.
package identity

import (
	_ "embed"
	"strings"
)

//go:embed claude_code_instructions.txt
var claudeCodeInstructions string

//go:embed claude_code_tools.json
var claudeCodeTools string

// IdentityPrefix is the sentence the upstream expects as the first system
// block of a CLI-shaped request.
const IdentityPrefix = "You are Claude Code, Anthropic's official CLI for Claude."

// cliUserAgentPrefix marks requests originating from the real CLI.
const cliUserAgentPrefix = "claude-cli/"

// cliBetaFlag is the capability token only the CLI negotiates.
const cliBetaFlag = "claude-code-20250219"

// fullInstructionsMinLen is the length above which a system block is assumed
// to carry the full CLI instructions rather than a short client prompt.
const fullInstructionsMinLen = 5000

// Catalog bundles the static identity assets: the identity sentence, the full
// system-instructions text and the CLI tool catalog. The payloads are opaque
// to the gateway; it only places them. A Catalog is immutable after creation.
type Catalog struct {
	// IdentityPrefix is the identity sentence (see the package constant).
	IdentityPrefix string

	// Instructions is the full CLI system-instructions text.
	Instructions string

	// Tools is the raw JSON array of CLI tool descriptors.
	Tools string

	// BillingText, when non-empty, is the billing-envelope block text. Its
	// presence in a request's first system block also marks the request as
	// CLI-shaped.
	BillingText string
}

// NewCatalog returns the built-in identity catalog. billingText is optional;
// when empty, no billing block is emitted and billing-envelope detection is
// disabled.
func NewCatalog(billingText string) *Catalog {
	return &Catalog{
		IdentityPrefix: IdentityPrefix,
		Instructions:   strings.TrimRight(claudeCodeInstructions, "\n"),
		Tools:          strings.TrimSpace(claudeCodeTools),
		BillingText:    strings.TrimSpace(billingText),
	}
}
