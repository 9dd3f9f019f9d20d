package sanitize

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestStripOrphanToolResults_RemovesGhostResult(t *testing.T) {
	messages := []byte(`[` +
		`{"role":"assistant","content":[{"type":"tool_use","id":"toolu_A","name":"read","input":{}}]},` +
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_A","content":"ok"},{"type":"tool_result","tool_use_id":"toolu_GHOST","content":"?"}]}` +
		`]`)

	out, removed, had := StripOrphanToolResults(messages)
	if !had {
		t.Fatalf("hadOrphans = false, want true")
	}
	if len(removed) != 1 || removed[0] != "toolu_GHOST" {
		t.Fatalf("removed = %v, want [toolu_GHOST]", removed)
	}
	if got := int(gjson.GetBytes(out, "1.content.#").Int()); got != 1 {
		t.Fatalf("second message has %d blocks, want 1", got)
	}
	if got := gjson.GetBytes(out, "1.content.0.tool_use_id").String(); got != "toolu_A" {
		t.Fatalf("surviving tool_use_id = %q, want toolu_A", got)
	}
}

func TestStripOrphanToolResults_NoOrphansReturnsInputUnchanged(t *testing.T) {
	messages := []byte(`[` +
		`{"role":"assistant","content":[{"type":"tool_use","id":"toolu_A","name":"read","input":{}}]},` +
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_A"}]}` +
		`]`)

	out, removed, had := StripOrphanToolResults(messages)
	if had {
		t.Fatalf("hadOrphans = true, want false")
	}
	if removed != nil {
		t.Fatalf("removed = %v, want nil", removed)
	}
	if string(out) != string(messages) {
		t.Fatalf("no-orphan input was rewritten:\n got %s\nwant %s", out, messages)
	}
}

func TestStripOrphanToolResults_RecognizesToolUseOnAnyRole(t *testing.T) {
	// A mislabelled assistant turn still declares its tool_use ids.
	messages := []byte(`[` +
		`{"role":"user","content":[{"type":"tool_use","id":"toolu_X","name":"bash","input":{}}]},` +
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_X"}]}` +
		`]`)

	_, _, had := StripOrphanToolResults(messages)
	if had {
		t.Fatalf("tool_use declared on user role was not recognized")
	}
}

func TestStripOrphanToolResults_KeepsEmptiedMessage(t *testing.T) {
	messages := []byte(`[` +
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_GONE"}]},` +
		`{"role":"user","content":[{"type":"text","text":"hi"}]}` +
		`]`)

	out, _, had := StripOrphanToolResults(messages)
	if !had {
		t.Fatalf("hadOrphans = false, want true")
	}
	if got := int(gjson.GetBytes(out, "#").Int()); got != 2 {
		t.Fatalf("message count = %d, want 2 (emptied messages must be kept)", got)
	}
	if got := int(gjson.GetBytes(out, "0.content.#").Int()); got != 0 {
		t.Fatalf("first message has %d blocks, want 0", got)
	}
}

func TestStripOrphanToolResults_ReportsDistinctIDsInOrder(t *testing.T) {
	messages := []byte(`[` +
		`{"role":"user","content":[` +
		`{"type":"tool_result","tool_use_id":"toolu_B"},` +
		`{"type":"tool_result","tool_use_id":"toolu_A"},` +
		`{"type":"tool_result","tool_use_id":"toolu_B"}` +
		`]}]`)

	out, removed, _ := StripOrphanToolResults(messages)
	if len(removed) != 2 || removed[0] != "toolu_B" || removed[1] != "toolu_A" {
		t.Fatalf("removed = %v, want [toolu_B toolu_A]", removed)
	}
	if got := int(gjson.GetBytes(out, "0.content.#").Int()); got != 0 {
		t.Fatalf("content has %d blocks, want 0", got)
	}
}

func TestStripOrphanToolResults_StringContentUntouched(t *testing.T) {
	messages := []byte(`[{"role":"user","content":"plain text"}]`)

	out, _, had := StripOrphanToolResults(messages)
	if had {
		t.Fatalf("hadOrphans = true, want false")
	}
	if got := gjson.GetBytes(out, "0.content").String(); got != "plain text" {
		t.Fatalf("content = %q, want unchanged", got)
	}
}

func TestStripOrphanToolResults_NoNewOrphansIntroduced(t *testing.T) {
	messages := []byte(`[` +
		`{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"a","input":{}},{"type":"tool_use","id":"toolu_2","name":"b","input":{}}]},` +
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1"},{"type":"tool_result","tool_use_id":"toolu_dead"},{"type":"tool_result","tool_use_id":"toolu_2"}]}` +
		`]`)

	out, _, _ := StripOrphanToolResults(messages)

	known := make(map[string]bool)
	gjson.GetBytes(out, "@this").ForEach(func(_, msg gjson.Result) bool {
		msg.Get("content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "tool_use" {
				known[block.Get("id").String()] = true
			}
			return true
		})
		return true
	})
	gjson.GetBytes(out, "@this").ForEach(func(_, msg gjson.Result) bool {
		msg.Get("content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "tool_result" {
				if !known[block.Get("tool_use_id").String()] {
					t.Fatalf("orphan survived: %s", block.Get("tool_use_id").String())
				}
			}
			return true
		})
		return true
	})
}

func TestRemoveToolResult_TargetsSingleID(t *testing.T) {
	messages := []byte(`[` +
		`{"role":"user","content":[` +
		`{"type":"tool_result","tool_use_id":"toolu_X"},` +
		`{"type":"text","text":"keep"},` +
		`{"type":"tool_result","tool_use_id":"toolu_Y"}` +
		`]}]`)

	out := RemoveToolResult(messages, "toolu_X")
	if got := int(gjson.GetBytes(out, "0.content.#").Int()); got != 2 {
		t.Fatalf("content has %d blocks, want 2", got)
	}
	if got := gjson.GetBytes(out, "0.content.0.text").String(); got != "keep" {
		t.Fatalf("first surviving block = %q, want the text block", got)
	}
	if got := gjson.GetBytes(out, "0.content.1.tool_use_id").String(); got != "toolu_Y" {
		t.Fatalf("second surviving block = %q, want toolu_Y", got)
	}
}

func TestRemoveToolResult_UnknownIDIsNoop(t *testing.T) {
	messages := []byte(`[{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_A"}]}]`)

	out := RemoveToolResult(messages, "toolu_missing")
	if string(out) != string(messages) {
		t.Fatalf("no-op removal rewrote input")
	}
}
