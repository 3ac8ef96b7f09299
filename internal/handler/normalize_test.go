package handler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claudebridge/internal/model"
	"claudebridge/internal/wire"
)

func strContent(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

func TestBuildUpstreamBodyPersonaFirst(t *testing.T) {
	req := &wire.ProxyRequest{
		Model: "claude-4-sonnet",
		Messages: []wire.InboundMsg{
			{Role: "user", Content: strContent("hello there")},
		},
	}

	body := BuildUpstreamBody(req, model.Resolve(req.Model))

	require.NotEmpty(t, body.Request.System)
	assert.Equal(t, PersonaPrompt, body.Request.System[0].Text)
	assert.Equal(t, model.SonnetModel, body.Request.Model)
	assert.False(t, body.HadSystemRole)
}

func TestBuildUpstreamBodyLiftsSystemMessages(t *testing.T) {
	req := &wire.ProxyRequest{
		Model:  "claude-4-sonnet",
		System: strContent("declared system prompt"),
		Messages: []wire.InboundMsg{
			{Role: "system", Content: strContent("inline system rules")},
			{Role: "user", Content: strContent("question")},
		},
	}

	body := BuildUpstreamBody(req, model.Resolve(req.Model))

	assert.True(t, body.HadSystemRole)
	require.Len(t, body.Request.System, 3)
	assert.Equal(t, PersonaPrompt, body.Request.System[0].Text)
	assert.Equal(t, "declared system prompt", body.Request.System[1].Text)
	assert.Equal(t, "inline system rules", body.Request.System[2].Text)

	// No system-role message survives into the history.
	for _, msg := range body.Request.Messages {
		assert.NotEqual(t, "system", msg.Role)
	}
}

func TestBuildUpstreamBodyPersonaNotDuplicated(t *testing.T) {
	req := &wire.ProxyRequest{
		Model:  "claude-4-sonnet",
		System: strContent(PersonaPrompt + " Extra instructions."),
		Messages: []wire.InboundMsg{
			{Role: "user", Content: strContent("hi there, explain goroutines")},
		},
	}

	body := BuildUpstreamBody(req, model.Resolve(req.Model))

	require.Len(t, body.Request.System, 1)
	assert.Contains(t, body.Request.System[0].Text, PersonaPrompt)
}

func TestNormalizeToolRoleMessages(t *testing.T) {
	req := &wire.ProxyRequest{
		Model: "claude-4-sonnet",
		Messages: []wire.InboundMsg{
			{Role: "user", Content: strContent("search for foo")},
			{
				Role:    "assistant",
				Content: strContent("checking"),
				ToolCalls: []wire.OpenAIToolCall{{
					ID:       "tu_1",
					Type:     "function",
					Function: wire.OpenAIToolCallFunc{Name: "search", Arguments: `{"q":"foo"}`},
				}},
			},
			{Role: "tool", ToolCallID: "tu_1", Content: strContent("result text")},
			{Role: "user", Content: strContent("and now?")},
		},
	}

	body := BuildUpstreamBody(req, model.Resolve(req.Model))
	msgs := body.Request.Messages
	require.Len(t, msgs, 3)

	assert.Equal(t, "user", msgs[0].Role)

	assert.Equal(t, "assistant", msgs[1].Role)
	blocks := wire.ParseMessageContent(msgs[1].Content)
	require.Len(t, blocks, 2)
	assert.Equal(t, "text", blocks[0].Type)
	assert.Equal(t, "tool_use", blocks[1].Type)
	assert.Equal(t, "tu_1", blocks[1].ID)
	assert.JSONEq(t, `{"q":"foo"}`, string(blocks[1].Input))

	// Tool result merges into the following user turn.
	assert.Equal(t, "user", msgs[2].Role)
	blocks = wire.ParseMessageContent(msgs[2].Content)
	require.Len(t, blocks, 2)
	assert.Equal(t, "tool_result", blocks[0].Type)
	assert.Equal(t, "tu_1", blocks[0].ToolUseID)
	assert.Equal(t, "text", blocks[1].Type)
}

func TestEnableDisableThinkingRestoresTemperature(t *testing.T) {
	temp := 0.5
	req := &wire.ProxyRequest{
		Model:       "claude-4-sonnet-thinking",
		Temperature: &temp,
		Messages: []wire.InboundMsg{
			{Role: "user", Content: strContent("think about this")},
		},
	}

	body := BuildUpstreamBody(req, model.Resolve(req.Model))

	require.NotNil(t, body.Request.Thinking)
	assert.Equal(t, "enabled", body.Request.Thinking.Type)
	assert.Equal(t, model.DefaultThinkingBudget, body.Request.Thinking.BudgetTokens)
	require.NotNil(t, body.Request.Temperature)
	assert.Equal(t, 1.0, *body.Request.Temperature)

	DisableThinking(body)

	assert.Nil(t, body.Request.Thinking)
	require.NotNil(t, body.Request.Temperature)
	assert.Equal(t, 0.5, *body.Request.Temperature)
}

func TestStopSequences(t *testing.T) {
	req := &wire.ProxyRequest{Stop: json.RawMessage(`"END"`)}
	assert.Equal(t, []string{"END"}, stopSequences(req))

	req = &wire.ProxyRequest{Stop: json.RawMessage(`["a","b"]`)}
	assert.Equal(t, []string{"a", "b"}, stopSequences(req))

	req = &wire.ProxyRequest{StopSequences: []string{"x"}, Stop: json.RawMessage(`"ignored"`)}
	assert.Equal(t, []string{"x"}, stopSequences(req))

	assert.Nil(t, stopSequences(&wire.ProxyRequest{}))
}

func TestNormalizeToolsOpenAIShape(t *testing.T) {
	raw := json.RawMessage(`[
		{"type":"function","function":{"name":"search","description":"find things","parameters":{"type":"object","properties":{"q":{"type":"string"}}}}},
		{"type":"function","function":{"name":"noop"}}
	]`)

	tools := normalizeTools(raw)
	require.Len(t, tools, 2)
	assert.Equal(t, "search", tools[0].Name)
	assert.Equal(t, "find things", tools[0].Description)
	assert.Contains(t, string(tools[0].InputSchema), `"q"`)

	// Missing parameters fall back to an empty object schema.
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(tools[1].InputSchema))
}

func TestNormalizeToolsAnthropicShapePassthrough(t *testing.T) {
	raw := json.RawMessage(`[{"name":"search","input_schema":{"type":"object"}}]`)
	tools := normalizeTools(raw)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(tools[0].InputSchema))
}

func TestMaxTokensPrecedence(t *testing.T) {
	clientMax := 1234
	req := &wire.ProxyRequest{
		Model:     "claude-4-sonnet",
		MaxTokens: &clientMax,
		Messages:  []wire.InboundMsg{{Role: "user", Content: strContent("go")}},
	}
	body := BuildUpstreamBody(req, model.Resolve(req.Model))
	assert.Equal(t, 1234, body.Request.MaxTokens)

	req.MaxTokens = nil
	body = BuildUpstreamBody(req, model.Resolve(req.Model))
	assert.Equal(t, 64000, body.Request.MaxTokens)
}
