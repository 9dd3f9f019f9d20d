package identity

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const ephemeralCacheControl = `{"type":"ephemeral"}`

// Normalizer rewrites headers and body so the upstream sees a CLI-shaped
// request. It is immutable after construction apart from the user-id cache it
// owns; one instance serves all requests.
type Normalizer struct {
	rules        []ModelRule
	catalog      *Catalog
	identityHost string
	userIDs      *userIDCache
}

// NewNormalizer builds a normalizer with the built-in rule table.
// identityHost is the host substring for which normalization activates.
func NewNormalizer(catalog *Catalog, identityHost string) *Normalizer {
	return NewNormalizerWithRules(catalog, identityHost, DefaultRules())
}

// NewNormalizerWithRules builds a normalizer with an explicit rule table.
func NewNormalizerWithRules(catalog *Catalog, identityHost string, rules []ModelRule) *Normalizer {
	return &Normalizer{
		rules:        rules,
		catalog:      catalog,
		identityHost: identityHost,
		userIDs:      newUserIDCache(),
	}
}

// Normalize applies the identity rewrite in a fixed step order and returns
// the rewritten body. The request passes through untouched unless all of the
// following hold: the target host matches the identity-sensitive host, the
// body is a JSON object with a string model field, and a model rule matches.
// Each step is idempotent, so re-normalizing an already normalized request is
// a no-op. The header set is mutated in place.
func (n *Normalizer) Normalize(host string, header http.Header, body []byte) []byte {
	if !n.hostMatches(host) {
		return body
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return body
	}
	model := parsed.Get("model")
	if model.Type != gjson.String {
		return body
	}
	rule := matchRule(n.rules, model.String())
	if rule == nil {
		return body
	}

	// CLI detection has to happen before the beta merge below injects the
	// CLI-exclusive flag, which would make it trivially true.
	isCli := n.detectCli(header, body)

	if merged := MergeBetaFlags(header.Get("anthropic-beta"), rule.RequiredBetaFlags); merged != "" {
		header.Set("anthropic-beta", merged)
	}

	if len(rule.Thinking) > 0 {
		body, _ = sjson.SetRawBytes(body, "thinking", append([]byte(nil), rule.Thinking...))
	} else {
		body, _ = sjson.DeleteBytes(body, "thinking")
	}

	if rule.RemoveTemperature {
		body, _ = sjson.DeleteBytes(body, "temperature")
	}

	applyFingerprintHygiene(header, isCli)
	normalizeAuthorization(header)

	switch {
	case rule.RequireIdentity && isCli:
		body = n.repairCliBody(header, body)
	case rule.RequireIdentity:
		body = n.spoofGenericBody(header, body)
	default:
		body = n.relaxedBody(body)
	}

	if gjson.GetBytes(body, "max_tokens").Float() == 0 {
		body, _ = sjson.SetBytes(body, "max_tokens", 32000)
	}

	// Outbound framing is recomputed from the rewritten body.
	header.Del("content-length")
	return body
}

func (n *Normalizer) hostMatches(host string) bool {
	if n.identityHost == "" {
		return false
	}
	return strings.Contains(strings.ToLower(host), strings.ToLower(n.identityHost))
}

// detectCli reports whether the request already looks like it came from the
// first-party CLI: the CLI user-agent, the CLI-exclusive beta flag, or the
// billing envelope in the first system block.
func (n *Normalizer) detectCli(header http.Header, body []byte) bool {
	if strings.HasPrefix(header.Get("user-agent"), cliUserAgentPrefix) {
		return true
	}
	for _, flag := range strings.Split(header.Get("anthropic-beta"), ",") {
		if strings.TrimSpace(flag) == cliBetaFlag {
			return true
		}
	}
	if n.catalog.BillingText != "" {
		if first := firstSystemText(body); first != "" && strings.Contains(first, n.catalog.BillingText) {
			return true
		}
	}
	return false
}

// firstSystemText extracts the text of the first system block, accepting the
// array, bare-string and single-object shapes clients send.
func firstSystemText(body []byte) string {
	system := gjson.GetBytes(body, "system")
	switch {
	case system.IsArray():
		return system.Get("0.text").String()
	case system.Type == gjson.String:
		return system.String()
	case system.IsObject():
		return system.Get("text").String()
	}
	return ""
}

// repairCliBody handles requests that already came from the CLI: the shape is
// trusted but missing pieces are filled in.
func (n *Normalizer) repairCliBody(header http.Header, body []byte) []byte {
	sysRaw := normalizeSystemArray(body)
	blocks := gjson.Parse(sysRaw).Array()

	switch {
	case len(blocks) == 0:
		sysRaw = joinBlocks(n.canonicalPrefix())
	case n.catalog.BillingText != "" && strings.Contains(blocks[0].Get("text").String(), n.catalog.BillingText):
		// Billing envelope present: the CLI built this prompt, keep it and
		// only make sure the identity block stays cache-anchored.
		if len(blocks) > 1 {
			sysRaw, _ = sjson.SetRaw(sysRaw, "1.cache_control", ephemeralCacheControl)
		}
	case strings.HasPrefix(blocks[0].Get("text").String(), n.catalog.IdentityPrefix):
		sysRaw, _ = sjson.SetRaw(sysRaw, "0.cache_control", ephemeralCacheControl)
		if !hasFullInstructions(blocks) {
			sysRaw, _ = sjson.SetRaw(sysRaw, "-1", n.instructionsBlock())
		}
		if n.catalog.BillingText != "" {
			sysRaw = joinBlocks(append([]string{n.billingBlock()}, blockRaws(gjson.Parse(sysRaw).Array())...))
		}
	default:
		sysRaw = joinBlocks(append(n.canonicalPrefix(), blockRaws(blocks)...))
	}
	body, _ = sjson.SetRawBytes(body, "system", []byte(sysRaw))

	body = n.ensureToolCatalog(body)
	return n.enforceUserID(header, body)
}

// spoofGenericBody dresses a generic client (Web UI, OpenAI-compatible SDK)
// as the CLI.
func (n *Normalizer) spoofGenericBody(header http.Header, body []byte) []byte {
	sysRaw := normalizeSystemArray(body)
	blocks := gjson.Parse(sysRaw).Array()

	identityPresent := false
	for _, block := range blocks {
		if strings.Contains(block.Get("text").String(), n.catalog.IdentityPrefix) {
			identityPresent = true
			break
		}
	}
	if !identityPresent {
		sysRaw = joinBlocks(append(n.canonicalPrefix(), blockRaws(blocks)...))
	}
	body, _ = sjson.SetRawBytes(body, "system", []byte(sysRaw))

	body = n.ensureToolCatalog(body)
	return n.enforceUserID(header, body)
}

// relaxedBody covers models the upstream does not identity-check; only the
// minimal shape is guaranteed.
func (n *Normalizer) relaxedBody(body []byte) []byte {
	system := gjson.GetBytes(body, "system")
	empty := !system.Exists() ||
		(system.IsArray() && len(system.Array()) == 0) ||
		(system.Type == gjson.String && system.String() == "")
	if empty {
		body, _ = sjson.SetRawBytes(body, "system", []byte(joinBlocks([]string{textBlock(n.catalog.IdentityPrefix)})))
	}

	tools := gjson.GetBytes(body, "tools")
	if !tools.Exists() || !tools.IsArray() {
		body, _ = sjson.SetRawBytes(body, "tools", []byte("[]"))
	}

	if !gjson.GetBytes(body, "metadata").Exists() {
		body, _ = sjson.SetBytes(body, "metadata.user_id", GenerateUserID())
	}
	return body
}

// ensureToolCatalog injects the CLI tool catalog when the client sent no
// tools; client-declared tools always win.
func (n *Normalizer) ensureToolCatalog(body []byte) []byte {
	tools := gjson.GetBytes(body, "tools")
	if !tools.Exists() || (tools.IsArray() && len(tools.Array()) == 0) {
		body, _ = sjson.SetRawBytes(body, "tools", []byte(n.catalog.Tools))
	}
	return body
}

// enforceUserID replaces metadata.user_id unless it already matches the CLI
// format. Synthesized IDs are stable per client credential.
func (n *Normalizer) enforceUserID(header http.Header, body []byte) []byte {
	uid := gjson.GetBytes(body, "metadata.user_id")
	if uid.Type == gjson.String && IsValidUserID(uid.String()) {
		return body
	}
	body, _ = sjson.SetBytes(body, "metadata.user_id", n.userIDs.Lookup(header.Get("authorization")))
	return body
}

// normalizeSystemArray returns body.system as a raw JSON array: arrays pass
// through, a non-empty string becomes one text block, a single typed object
// is wrapped, anything else becomes an empty array.
func normalizeSystemArray(body []byte) string {
	system := gjson.GetBytes(body, "system")
	switch {
	case system.IsArray():
		return system.Raw
	case system.Type == gjson.String:
		if system.String() == "" {
			return "[]"
		}
		return joinBlocks([]string{textBlock(system.String())})
	case system.IsObject() && system.Get("type").Exists():
		return joinBlocks([]string{system.Raw})
	}
	return "[]"
}

// hasFullInstructions reports whether some block already carries the full
// instructions text, judged by length.
func hasFullInstructions(blocks []gjson.Result) bool {
	for _, block := range blocks {
		if len(block.Get("text").String()) > fullInstructionsMinLen {
			return true
		}
	}
	return false
}

// canonicalPrefix returns the block sequence the upstream expects at the head
// of a CLI system prompt: optional billing envelope, then the identity
// sentence and full instructions, both cache-anchored.
func (n *Normalizer) canonicalPrefix() []string {
	var blocks []string
	if n.catalog.BillingText != "" {
		blocks = append(blocks, n.billingBlock())
	}
	blocks = append(blocks, n.identityBlock(), n.instructionsBlock())
	return blocks
}

func (n *Normalizer) billingBlock() string {
	return textBlock(n.catalog.BillingText)
}

func (n *Normalizer) identityBlock() string {
	return ephemeralTextBlock(n.catalog.IdentityPrefix)
}

func (n *Normalizer) instructionsBlock() string {
	return ephemeralTextBlock(n.catalog.Instructions)
}

func textBlock(text string) string {
	out, _ := sjson.Set(`{"type":"text"}`, "text", text)
	return out
}

func ephemeralTextBlock(text string) string {
	out, _ := sjson.SetRaw(textBlock(text), "cache_control", ephemeralCacheControl)
	return out
}

func blockRaws(blocks []gjson.Result) []string {
	raws := make([]string, 0, len(blocks))
	for _, block := range blocks {
		raws = append(raws, block.Raw)
	}
	return raws
}

func joinBlocks(blocks []string) string {
	return "[" + strings.Join(blocks, ",") + "]"
}
