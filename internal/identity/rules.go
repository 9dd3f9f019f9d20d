package identity

import (
	"encoding/json"
	"strings"
)

// ModelRule describes the upstream requirements for one model family. Rules
// are matched by case-insensitive substring against the request's model field;
// the table is ordered more-specific first and the first match wins.
type ModelRule struct {
	// Match is the substring matched against the model name.
	Match string

	// RequiredBetaFlags are the capability tokens that must appear in the
	// outgoing anthropic-beta header. Client-negotiated flags are never
	// dropped; these are appended when missing.
	RequiredBetaFlags []string

	// Thinking, when non-nil, is injected verbatim as body.thinking. When
	// nil, any existing body.thinking is removed.
	Thinking json.RawMessage

	// RemoveTemperature strips body.temperature when set.
	RemoveTemperature bool

	// RequireIdentity enforces the CLI system-prompt and tool-catalog shape.
	RequireIdentity bool
}

// thinkingAuto enables extended thinking with a fixed 16384-token budget.
var thinkingAuto = json.RawMessage(`{"type":"enabled","budget_tokens":16384}`)

// defaultRules is the built-in dispatch table. Haiku-class models are used by
// the CLI for cheap background calls and are not identity-checked upstream;
// the interactive tiers are.
var defaultRules = []ModelRule{
	{
		Match: "haiku",
		RequiredBetaFlags: []string{
			"fine-grained-tool-streaming-2025-05-14",
		},
	},
	{
		Match: "sonnet",
		RequiredBetaFlags: []string{
			"claude-code-20250219",
			"oauth-2025-04-20",
			"interleaved-thinking-2025-05-14",
			"fine-grained-tool-streaming-2025-05-14",
		},
		Thinking:          thinkingAuto,
		RemoveTemperature: true,
		RequireIdentity:   true,
	},
	{
		Match: "opus",
		RequiredBetaFlags: []string{
			"claude-code-20250219",
			"oauth-2025-04-20",
			"interleaved-thinking-2025-05-14",
			"fine-grained-tool-streaming-2025-05-14",
		},
		Thinking:          thinkingAuto,
		RemoveTemperature: true,
		RequireIdentity:   true,
	},
}

// DefaultRules returns the built-in rule table.
func DefaultRules() []ModelRule {
	return defaultRules
}

// matchRule returns the first rule whose Match substring occurs in model,
// case-insensitively, or nil when none matches.
func matchRule(rules []ModelRule, model string) *ModelRule {
	lowered := strings.ToLower(model)
	for i := range rules {
		if strings.Contains(lowered, strings.ToLower(rules[i].Match)) {
			return &rules[i]
		}
	}
	return nil
}
