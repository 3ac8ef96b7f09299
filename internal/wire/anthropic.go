package wire

import "encoding/json"

// --- Upstream request ---

// AnthropicRequest is the body sent to the upstream messages endpoint. Only
// whitelisted fields from the inbound request survive into it.
type AnthropicRequest struct {
	Model         string          `json:"model"`
	Messages      []AnthropicMsg  `json:"messages"`
	System        []SystemBlock   `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Stream        bool            `json:"stream,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Tools         []AnthropicTool `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
}

type SystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// AnthropicMsg is a conversation message. Content is a string or an array of
// ContentBlock.
type AnthropicMsg struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlock is a flat union of the Anthropic content block types.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// redacted_thinking
	Data string `json:"data,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   *bool           `json:"is_error,omitempty"`
}

// IsThinking reports whether the block is a thinking or redacted_thinking
// block.
func (b ContentBlock) IsThinking() bool {
	return b.Type == "thinking" || b.Type == "redacted_thinking"
}

type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// --- Upstream response ---

type AnthropicResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        AnthropicUsage `json:"usage"`
}

type AnthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// --- Upstream SSE events ---

// StreamEvent is the loosely tagged envelope carried on upstream "data:"
// lines. One struct covers every event type; unknown types must be ignored
// so new upstream event kinds do not break the proxy.
type StreamEvent struct {
	Type         string          `json:"type"`
	Message      *MessageStart   `json:"message,omitempty"`
	Index        int             `json:"index,omitempty"`
	ContentBlock *ContentBlock   `json:"content_block,omitempty"`
	Delta        *EventDelta     `json:"delta,omitempty"`
	Usage        *AnthropicUsage `json:"usage,omitempty"`
	Signature    string          `json:"signature,omitempty"`
}

// MessageStart is the message object embedded in a message_start event.
type MessageStart struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage AnthropicUsage `json:"usage"`
}

// EventDelta is the delta payload of content_block_delta and message_delta
// events.
type EventDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// --- Helpers ---

// ParseMessageContent parses message content which can be a plain string or
// an array of ContentBlock.
func ParseMessageContent(raw json.RawMessage) []ContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []ContentBlock{{Type: "text", Text: s}}
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return blocks
}

// MarshalContent marshals a block sequence back into message content.
func MarshalContent(blocks []ContentBlock) json.RawMessage {
	raw, err := json.Marshal(blocks)
	if err != nil {
		return json.RawMessage("[]")
	}
	return raw
}

// ContentAsString flattens string-or-blocks content into plain text.
func ContentAsString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var out string
	for _, b := range ParseMessageContent(raw) {
		if b.Type == "text" && b.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}
