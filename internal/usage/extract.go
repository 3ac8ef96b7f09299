// Package usage summarises inbound requests for logging: embedded file
// references, @-mentions, tool and message counts, and a rough token
// estimate. The output is observability only and never alters a request.
package usage

import (
	"encoding/json"
	"regexp"
	"strings"

	"claudebridge/internal/wire"
)

// Summary is the extracted request context.
type Summary struct {
	FileReferences  []string
	Mentions        []string
	EstimatedTokens int
	ToolCount       int
	MessageCount    int
}

var (
	fileRefRe = regexp.MustCompile(`[A-Za-z0-9_\-./]+\.(?:go|ts|tsx|js|jsx|py|rs|java|rb|c|h|cpp|hpp|css|html|json|yaml|yml|toml|md|sql|sh|proto)\b`)
	mentionRe = regexp.MustCompile(`@[A-Za-z0-9_\-./]+`)
	versionRe = regexp.MustCompile(`^\d+\.\d+`)
)

// Extract summarises an inbound request. Token estimation is bytes/4 — a
// heuristic, never a control input.
func Extract(req *wire.ProxyRequest) Summary {
	var text strings.Builder
	text.WriteString(wire.ContentAsString(req.System))
	for _, msg := range req.Messages {
		text.WriteString("\n")
		for _, b := range wire.ParseMessageContent(msg.Content) {
			if b.Type == "text" {
				text.WriteString(b.Text)
				text.WriteString("\n")
			}
		}
	}
	full := text.String()

	var toolCount int
	if len(req.Tools) > 0 {
		// Count entries without caring which tool shape the client sent.
		var tools []json.RawMessage
		if err := json.Unmarshal(req.Tools, &tools); err == nil {
			toolCount = len(tools)
		}
	}

	return Summary{
		FileReferences:  dedupe(filterRefs(fileRefRe.FindAllString(full, -1))),
		Mentions:        dedupe(mentionRe.FindAllString(full, -1)),
		EstimatedTokens: len(full) / 4,
		ToolCount:       toolCount,
		MessageCount:    len(req.Messages),
	}
}

// filterRefs drops common false positives: URLs, bare version strings,
// dependency and VCS internals.
func filterRefs(refs []string) []string {
	var out []string
	for _, ref := range refs {
		switch {
		case strings.Contains(ref, "//"),
			strings.Contains(ref, "node_modules"),
			strings.Contains(ref, ".git/"),
			strings.HasSuffix(ref, ".git"),
			versionRe.MatchString(ref):
			continue
		}
		out = append(out, ref)
	}
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
