package handler

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claudebridge/internal/wire"
)

func probeReq(text string, stream bool) *wire.ProxyRequest {
	return &wire.ProxyRequest{
		Model:    "claude-4-sonnet",
		Stream:   stream,
		Messages: []wire.InboundMsg{{Role: "user", Content: strContent(text)}},
	}
}

func TestIsKeyProbe(t *testing.T) {
	assert.True(t, IsKeyProbe(probeReq("hi", false)))
	assert.True(t, IsKeyProbe(probeReq("Test", false)))
	assert.True(t, IsKeyProbe(probeReq("Please just say hi and nothing else", false)))
	assert.True(t, IsKeyProbe(probeReq("This is a test prompt to verify the key", false)))

	assert.False(t, IsKeyProbe(probeReq("hi, can you review this diff?", false)))
	assert.False(t, IsKeyProbe(probeReq("", false)))

	multi := probeReq("hi", false)
	multi.Messages = append(multi.Messages, wire.InboundMsg{Role: "assistant", Content: strContent("Hi")})
	assert.False(t, IsKeyProbe(multi))
}

func TestWriteKeyProbeReplyJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteKeyProbeReply(rec, probeReq("hi", false))

	var resp wire.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, "claude-4-sonnet", resp.Model)
	require.Len(t, resp.Choices, 1)
	require.NotNil(t, resp.Choices[0].Message.Content)
	assert.Equal(t, "Hi", *resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
}

func TestWriteKeyProbeReplyStream(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteKeyProbeReply(rec, probeReq("hi", true))

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))
	assert.Equal(t, 1, strings.Count(body, "[DONE]"))
	assert.Contains(t, body, `"Hi"`)
}
