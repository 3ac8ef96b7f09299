// Package model maps client-facing model aliases to upstream models, token
// budgets and thinking configuration.
package model

import "strings"

// Upstream model identifiers.
const (
	SonnetModel = "claude-sonnet-4-5"
	OpusModel   = "claude-opus-4-1"
	HaikuModel  = "claude-haiku-4-5"
)

const (
	// DefaultThinkingBudget is the reasoning budget used when a thinking
	// variant does not pin its own.
	DefaultThinkingBudget = 32000

	thinkingMaxTokens    = 64000
	passthroughMaxTokens = 8192
)

// Thinking is the thinking configuration attached to a variant.
type Thinking struct {
	BudgetTokens int
}

// Variant is a resolved model configuration. OriginalModel always carries
// the unmodified client string; it is echoed back in every response so the
// client's context-window accounting stays correct.
type Variant struct {
	UpstreamModel string
	MaxTokens     int
	Thinking      *Thinking
	OriginalModel string
}

// ThinkingEnabled reports whether this variant requests extended thinking.
func (v Variant) ThinkingEnabled() bool {
	return v.Thinking != nil
}

// variants is the alias table, keyed by normalised alias.
var variants = map[string]Variant{
	"claude-4-sonnet":              {UpstreamModel: SonnetModel, MaxTokens: 64000},
	"claude-4.5-sonnet":            {UpstreamModel: SonnetModel, MaxTokens: 64000},
	"claude-4-sonnet-thinking":     {UpstreamModel: SonnetModel, MaxTokens: thinkingMaxTokens, Thinking: &Thinking{BudgetTokens: DefaultThinkingBudget}},
	"claude-4.5-sonnet-thinking":   {UpstreamModel: SonnetModel, MaxTokens: thinkingMaxTokens, Thinking: &Thinking{BudgetTokens: DefaultThinkingBudget}},
	"claude-4-opus":                {UpstreamModel: OpusModel, MaxTokens: 32000},
	"claude-4.1-opus":              {UpstreamModel: OpusModel, MaxTokens: 32000},
	"claude-4-opus-thinking":       {UpstreamModel: OpusModel, MaxTokens: thinkingMaxTokens, Thinking: &Thinking{BudgetTokens: DefaultThinkingBudget}},
	"claude-4.1-opus-thinking":     {UpstreamModel: OpusModel, MaxTokens: thinkingMaxTokens, Thinking: &Thinking{BudgetTokens: DefaultThinkingBudget}},
	"claude-3.5-haiku":             {UpstreamModel: HaikuModel, MaxTokens: 8192},
	"claude-4.5-haiku":             {UpstreamModel: HaikuModel, MaxTokens: 8192},
}

// Resolve maps a client model string to a variant. Resolution order: exact
// table match, "thinking" heuristic, claude-prefix passthrough, then plain
// passthrough.
func Resolve(model string) Variant {
	normalized := strings.ToLower(strings.TrimSpace(model))

	if v, ok := variants[normalized]; ok {
		v.OriginalModel = model
		return v
	}

	if strings.Contains(normalized, "thinking") {
		base := SonnetModel
		switch {
		case strings.Contains(normalized, "opus"):
			base = OpusModel
		case strings.Contains(normalized, "haiku"):
			base = HaikuModel
		}
		return Variant{
			UpstreamModel: base,
			MaxTokens:     thinkingMaxTokens,
			Thinking:      &Thinking{BudgetTokens: DefaultThinkingBudget},
			OriginalModel: model,
		}
	}

	// Anything claude-prefixed (and anything else that survived the gateway
	// check) passes through with conservative defaults.
	return Variant{
		UpstreamModel: normalized,
		MaxTokens:     passthroughMaxTokens,
		OriginalModel: model,
	}
}

// IsClaudeFamily reports whether the model name belongs to the Claude
// family. The match is deliberately a substring test: the selective gateway
// only needs to refuse clearly foreign models so the client falls back to
// its own provider.
func IsClaudeFamily(model string) bool {
	lower := strings.ToLower(model)
	for _, marker := range []string{"claude", "sonnet", "opus", "haiku"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
