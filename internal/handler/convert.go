package handler

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"claudebridge/internal/wire"
)

// MapFinishReason maps an upstream stop_reason to an OpenAI finish_reason.
// Unlisted values pass through unchanged.
func MapFinishReason(stopReason string) string {
	switch stopReason {
	case "end_turn":
		return "stop"
	case "tool_use":
		return "tool_calls"
	default:
		return stopReason
	}
}

// ParseToolArguments turns an accumulated tool-argument string into a
// structured JSON input value. Truncated or malformed fragments are run
// through jsonrepair; an empty or unrecoverable string becomes {}.
func ParseToolArguments(args string) json.RawMessage {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil || !json.Valid([]byte(repaired)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(repaired)
}

// ConvertResponse translates a full non-streaming upstream response into a
// single OpenAI chat-completion object. model is the original
// client-requested model string, echoed verbatim.
func ConvertResponse(resp *wire.AnthropicResponse, model string) *wire.ChatCompletionResponse {
	msg := wire.ChatCompletionMessage{Role: "assistant"}

	var textParts []string
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			textParts = append(textParts, b.Text)
		case "tool_use":
			args := "{}"
			if len(b.Input) > 0 {
				args = string(b.Input)
			}
			msg.ToolCalls = append(msg.ToolCalls, wire.OpenAIToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: wire.OpenAIToolCallFunc{Name: b.Name, Arguments: args},
			})
		}
	}
	if len(textParts) > 0 {
		text := strings.Join(textParts, "")
		msg.Content = &text
	}

	finish := MapFinishReason(resp.StopReason)

	return &wire.ChatCompletionResponse{
		ID:      "chatcmpl-" + strings.TrimPrefix(resp.ID, "msg_"),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []wire.ChatCompletionChoice{{Index: 0, Message: msg, FinishReason: finish}},
		Usage: &wire.ChatCompletionUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			PromptTokensDetails: &wire.PromptTokensDetails{
				CachedTokens: resp.Usage.CacheReadInputTokens,
			},
			CompletionTokensDetails: &wire.CompletionTokensDetails{ReasoningTokens: 0},
		},
	}
}
