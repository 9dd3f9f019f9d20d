// Package sanitize removes orphaned tool_result blocks from Anthropic-style
// conversations. A tool_result is orphaned when its tool_use_id does not
// reference any tool_use block in the same conversation; the upstream rejects
// such requests with a 400 naming the dangling identifier.
//
// Both operations take the raw JSON messages array and return a new byte
// slice when they remove something, or the input slice itself when there is
// nothing to remove; the input is never mutated.
package sanitize

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// blockRef locates one content block inside the messages array.
type blockRef struct {
	msgIndex   int64
	blockIndex int64
}

// StripOrphanToolResults scans the full conversation and removes every
// tool_result block whose tool_use_id is not declared by any tool_use block.
// It returns the (possibly rewritten) messages array, the distinct orphaned
// identifiers in first-seen order, and whether any orphan was found. When no
// orphans exist the input bytes are returned unchanged.
//
// tool_use declarations are collected across all roles, not only assistant
// turns: a client that mislabels an assistant turn still has its declarations
// recognized.
func StripOrphanToolResults(messages []byte) ([]byte, []string, bool) {
	parsed := gjson.ParseBytes(messages)
	if !parsed.IsArray() {
		return messages, nil, false
	}

	known := make(map[string]struct{})
	parsed.ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "tool_use" {
				if id := block.Get("id").String(); id != "" {
					known[id] = struct{}{}
				}
			}
			return true
		})
		return true
	})

	var removedIDs []string
	seen := make(map[string]struct{})
	var refs []blockRef
	parsed.ForEach(func(msgIndex, msg gjson.Result) bool {
		content := msg.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(blockIndex, block gjson.Result) bool {
			if block.Get("type").String() != "tool_result" {
				return true
			}
			id := block.Get("tool_use_id").String()
			if _, ok := known[id]; ok {
				return true
			}
			refs = append(refs, blockRef{msgIndex: msgIndex.Int(), blockIndex: blockIndex.Int()})
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				removedIDs = append(removedIDs, id)
			}
			return true
		})
		return true
	})

	if len(refs) == 0 {
		return messages, nil, false
	}
	return deleteBlocks(messages, refs), removedIDs, true
}

// RemoveToolResult removes every tool_result block whose tool_use_id equals
// the given identifier. It is the reactive half of sanitization, applied when
// the upstream 400 cites one specific dangling id. Identifiers are compared
// byte-for-byte.
func RemoveToolResult(messages []byte, toolUseID string) []byte {
	parsed := gjson.ParseBytes(messages)
	if !parsed.IsArray() || toolUseID == "" {
		return messages
	}

	var refs []blockRef
	parsed.ForEach(func(msgIndex, msg gjson.Result) bool {
		content := msg.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(blockIndex, block gjson.Result) bool {
			if block.Get("type").String() != "tool_result" {
				return true
			}
			if block.Get("tool_use_id").String() == toolUseID {
				refs = append(refs, blockRef{msgIndex: msgIndex.Int(), blockIndex: blockIndex.Int()})
			}
			return true
		})
		return true
	})

	if len(refs) == 0 {
		return messages
	}
	return deleteBlocks(messages, refs)
}

// deleteBlocks removes the referenced content blocks, iterating in reverse so
// earlier deletions do not shift the indices of later ones. Messages whose
// content becomes empty are kept: the upstream tolerates empty content, and
// dropping a message would desynchronize the turn order.
func deleteBlocks(messages []byte, refs []blockRef) []byte {
	out := messages
	for i := len(refs) - 1; i >= 0; i-- {
		path := fmt.Sprintf("%d.content.%d", refs[i].msgIndex, refs[i].blockIndex)
		updated, err := sjson.DeleteBytes(out, path)
		if err != nil {
			continue
		}
		out = updated
	}
	return out
}
