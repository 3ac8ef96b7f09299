package thinking

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"claudebridge/internal/wire"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// ContentKey derives the cache key for an assistant message's content.
// Thinking blocks are deliberately excluded so a message keys identically
// before and after the client strips them. Returns ok=false for content that
// produces an empty canonical string (nothing worth caching under).
func ContentKey(blocks []wire.ContentBlock) (string, bool) {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "thinking", "redacted_thinking":
			continue
		case "text":
			parts = append(parts, b.Text)
		case "tool_use":
			parts = append(parts, "tool:"+b.Name+":"+stableJSON(b.Input))
		case "tool_result":
			parts = append(parts, "result:"+b.ToolUseID+":"+wire.ContentAsString(b.Content))
		}
	}

	normalized := strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.Join(parts, "|"), " "))
	if normalized == "" {
		return "", false
	}

	h := fnv.New32a()
	h.Write([]byte(normalized))
	return fmt.Sprintf("v2:%d:%d", h.Sum32(), len(normalized)), true
}

// KeyForContent derives the key for raw string-or-blocks message content.
func KeyForContent(raw json.RawMessage) (string, bool) {
	return ContentKey(wire.ParseMessageContent(raw))
}

// stableJSON renders a JSON value with object keys sorted at every level, so
// semantically equal tool inputs hash identically. Malformed input (e.g. a
// truncated fragment some client replayed) is run through jsonrepair before
// falling back to the raw text.
func stableJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(string(raw))
		if repairErr != nil {
			return string(raw)
		}
		if err := json.Unmarshal([]byte(repaired), &v); err != nil {
			return string(raw)
		}
	}
	// encoding/json sorts map keys deterministically at every depth.
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
