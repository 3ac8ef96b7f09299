package handler

import (
	"encoding/json"
	"strings"

	"claudebridge/internal/model"
	"claudebridge/internal/wire"
)

// PersonaPrompt is the first-party CLI persona line. OAuth-issued tokens are
// only accepted upstream when the system prompt opens with it.
const PersonaPrompt = "You are Claude Code, Anthropic's official CLI for Claude."

const defaultMaxTokens = 4096

// UpstreamBody is the rewritten request bound for the upstream messages
// endpoint, plus the pieces the pipeline needs afterwards.
type UpstreamBody struct {
	Request       wire.AnthropicRequest
	HadSystemRole bool
	// OriginalTemperature is the client's temperature before any thinking
	// override, restored on downgrade.
	OriginalTemperature *float64
}

// BuildUpstreamBody whitelists and rewrites the inbound request into an
// upstream messages body: system-role messages are lifted out of the
// history, the persona line is prepended, OpenAI-isms (tool role messages,
// assistant tool_calls, function tools) are normalised to content blocks,
// and the variant's max_tokens and thinking configuration are applied.
func BuildUpstreamBody(req *wire.ProxyRequest, variant model.Variant) *UpstreamBody {
	messages, liftedSystem := normalizeMessages(req.Messages)

	body := &UpstreamBody{
		HadSystemRole:       len(liftedSystem) > 0,
		OriginalTemperature: req.Temperature,
	}

	maxTokens := variant.MaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	body.Request = wire.AnthropicRequest{
		Model:         variant.UpstreamModel,
		Messages:      messages,
		System:        buildSystem(req.System, liftedSystem),
		MaxTokens:     maxTokens,
		Stream:        req.Stream,
		StopSequences: stopSequences(req),
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		Metadata:      req.Metadata,
		Tools:         normalizeTools(req.Tools),
		ToolChoice:    req.ToolChoice,
	}

	if variant.ThinkingEnabled() {
		EnableThinking(body, variant.Thinking.BudgetTokens)
	}

	return body
}

// EnableThinking sets the thinking parameter. The upstream requires
// temperature 1 whenever thinking is on.
func EnableThinking(body *UpstreamBody, budget int) {
	one := 1.0
	body.Request.Thinking = &wire.ThinkingConfig{Type: "enabled", BudgetTokens: budget}
	body.Request.Temperature = &one
}

// DisableThinking reverts EnableThinking, restoring the client's original
// temperature. Used by the silent downgrade when cached thinking blocks are
// missing.
func DisableThinking(body *UpstreamBody) {
	body.Request.Thinking = nil
	body.Request.Temperature = body.OriginalTemperature
}

// normalizeMessages converts the inbound history to Anthropic messages,
// lifting out system-role entries. Consecutive same-role messages are merged
// since the upstream requires strict user/assistant alternation.
func normalizeMessages(inbound []wire.InboundMsg) ([]wire.AnthropicMsg, []string) {
	var messages []wire.AnthropicMsg
	var liftedSystem []string

	appendBlocks := func(role string, blocks []wire.ContentBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			merged := append(wire.ParseMessageContent(messages[n-1].Content), blocks...)
			messages[n-1].Content = wire.MarshalContent(merged)
			return
		}
		messages = append(messages, wire.AnthropicMsg{
			Role:    role,
			Content: wire.MarshalContent(blocks),
		})
	}

	for _, msg := range inbound {
		switch msg.Role {
		case "system":
			if text := wire.ContentAsString(msg.Content); text != "" {
				liftedSystem = append(liftedSystem, text)
			}

		case "tool":
			appendBlocks("user", []wire.ContentBlock{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}})

		case "assistant":
			blocks := wire.ParseMessageContent(msg.Content)
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, wire.ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: ParseToolArguments(tc.Function.Arguments),
				})
			}
			appendBlocks("assistant", blocks)

		default:
			appendBlocks("user", wire.ParseMessageContent(msg.Content))
		}
	}

	return messages, liftedSystem
}

// buildSystem normalises the system field to an array of text blocks with
// the persona line first. Lifted system-role texts follow the declared
// system prompt.
func buildSystem(raw json.RawMessage, lifted []string) []wire.SystemBlock {
	var blocks []wire.SystemBlock

	if len(raw) > 0 {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				blocks = append(blocks, wire.SystemBlock{Type: "text", Text: s})
			}
		} else {
			var parsed []wire.SystemBlock
			if err := json.Unmarshal(raw, &parsed); err == nil {
				blocks = parsed
			}
		}
	}

	for _, text := range lifted {
		blocks = append(blocks, wire.SystemBlock{Type: "text", Text: text})
	}

	if len(blocks) == 0 || !strings.HasPrefix(strings.TrimSpace(blocks[0].Text), PersonaPrompt) {
		blocks = append([]wire.SystemBlock{{Type: "text", Text: PersonaPrompt}}, blocks...)
	}

	return blocks
}

// stopSequences accepts either spelling of the stop field.
func stopSequences(req *wire.ProxyRequest) []string {
	if len(req.StopSequences) > 0 {
		return req.StopSequences
	}
	if len(req.Stop) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(req.Stop, &s); err == nil {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	var list []string
	if err := json.Unmarshal(req.Stop, &list); err == nil {
		return list
	}
	return nil
}

// normalizeTools converts OpenAI function tools to Anthropic tool
// declarations; Anthropic-shaped tools pass through.
func normalizeTools(raw json.RawMessage) []wire.AnthropicTool {
	if len(raw) == 0 {
		return nil
	}

	var openAITools []wire.OpenAITool
	if err := json.Unmarshal(raw, &openAITools); err == nil && looksLikeOpenAITools(openAITools) {
		tools := make([]wire.AnthropicTool, 0, len(openAITools))
		for _, t := range openAITools {
			schema := t.Function.Parameters
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			tools = append(tools, wire.AnthropicTool{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				InputSchema: schema,
			})
		}
		return tools
	}

	var tools []wire.AnthropicTool
	if err := json.Unmarshal(raw, &tools); err == nil {
		return tools
	}
	return nil
}

func looksLikeOpenAITools(tools []wire.OpenAITool) bool {
	for _, t := range tools {
		if t.Function.Name != "" {
			return true
		}
	}
	return false
}
