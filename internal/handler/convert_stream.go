package handler

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"claudebridge/internal/wire"
)

// ToolCallTracker accumulates the streamed JSON fragments of one tool call.
type ToolCallTracker struct {
	ID        string
	Name      string
	Arguments string
}

// Frame is one unit of translator output: either an OpenAI chunk or the
// terminal [DONE] marker.
type Frame struct {
	Chunk *wire.ChatCompletionChunk
	Done  bool
}

// StreamConverter rewrites the upstream Anthropic event stream into OpenAI
// chat-completion chunks. It is strictly per-request state: bytes arrive in
// arbitrary sizes, so a line buffer carries SSE fragments across Feed calls,
// and only fully terminated lines are parsed. Output order follows upstream
// event order exactly.
type StreamConverter struct {
	model   string // original client-requested model, echoed in every chunk
	id      string
	created int64

	lineBuf string
	tools   map[int]*ToolCallTracker

	inputTokens         int
	outputTokens        int
	cacheCreationTokens int
	cacheReadTokens     int
	stopReason          string

	inThinking  bool
	sawThinking bool
	thinking    wire.ContentBlock

	text strings.Builder
	done bool
}

// NewStreamConverter creates a converter for one upstream response. model is
// the original client-requested model string.
func NewStreamConverter(model string) *StreamConverter {
	return &StreamConverter{
		model:   model,
		created: time.Now().Unix(),
		tools:   make(map[int]*ToolCallTracker),
	}
}

// Feed consumes a raw byte chunk from the upstream body and returns the
// frames it completes. Any trailing partial line is retained for the next
// call, so output is independent of how the bytes were split.
func (c *StreamConverter) Feed(data []byte) []Frame {
	var frames []Frame

	buf := c.lineBuf + string(data)
	lines := strings.Split(buf, "\n")
	c.lineBuf = lines[len(lines)-1]

	for _, line := range lines[:len(lines)-1] {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		frames = append(frames, c.handleEvent(payload)...)
	}

	return frames
}

// Done reports whether the upstream signalled message_stop. A stream that
// ends without it was truncated; no [DONE] is forged in that case.
func (c *StreamConverter) Done() bool {
	return c.done
}

// CapturedThinking returns the completed thinking block, if the stream
// produced one.
func (c *StreamConverter) CapturedThinking() (wire.ContentBlock, bool) {
	return c.thinking, c.sawThinking
}

// AccumulatedText returns the concatenated plain-text output.
func (c *StreamConverter) AccumulatedText() string {
	return c.text.String()
}

// ToolUses returns the finalized tool_use blocks, with each accumulated
// argument string parsed into a structured input value.
func (c *StreamConverter) ToolUses() []wire.ContentBlock {
	indexes := make([]int, 0, len(c.tools))
	for idx := range c.tools {
		indexes = append(indexes, idx)
	}
	// Block indexes are small; insertion sort keeps upstream order.
	for i := 1; i < len(indexes); i++ {
		for j := i; j > 0 && indexes[j] < indexes[j-1]; j-- {
			indexes[j], indexes[j-1] = indexes[j-1], indexes[j]
		}
	}

	blocks := make([]wire.ContentBlock, 0, len(indexes))
	for _, idx := range indexes {
		t := c.tools[idx]
		blocks = append(blocks, wire.ContentBlock{
			Type:  "tool_use",
			ID:    t.ID,
			Name:  t.Name,
			Input: ParseToolArguments(t.Arguments),
		})
	}
	return blocks
}

// TokenCounts returns the aggregated usage counters.
func (c *StreamConverter) TokenCounts() (input, output, cached int) {
	return c.inputTokens, c.outputTokens, c.cacheReadTokens
}

// StopReason returns the most recent upstream stop reason.
func (c *StreamConverter) StopReason() string {
	return c.stopReason
}

func (c *StreamConverter) handleEvent(payload string) []Frame {
	var event wire.StreamEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		slog.Warn("unparseable upstream event", "error", err)
		return nil
	}

	switch event.Type {
	case "ping":
		return nil

	case "message_start":
		return c.onMessageStart(&event)

	case "content_block_start":
		return c.onBlockStart(&event)

	case "content_block_delta":
		return c.onBlockDelta(&event)

	case "content_block_stop":
		if c.inThinking {
			if event.Signature != "" {
				c.thinking.Signature += event.Signature
			}
			c.inThinking = false
		}
		return nil

	case "message_delta":
		return c.onMessageDelta(&event)

	case "message_stop":
		return c.onMessageStop()

	default:
		// Unknown event kinds are ignored, not failed.
		return nil
	}
}

func (c *StreamConverter) onMessageStart(event *wire.StreamEvent) []Frame {
	if event.Message != nil {
		c.id = "chatcmpl-" + strings.TrimPrefix(event.Message.ID, "msg_")
		c.accumulateUsage(&event.Message.Usage)
	}
	if c.id == "" {
		c.id = "chatcmpl-" + uuid.New().String()
	}

	role := "assistant"
	empty := ""
	return []Frame{{Chunk: c.newChunk(wire.ChunkDelta{Role: role, Content: &empty}, nil)}}
}

func (c *StreamConverter) onBlockStart(event *wire.StreamEvent) []Frame {
	if event.ContentBlock == nil {
		return nil
	}
	switch event.ContentBlock.Type {
	case "tool_use":
		tracker := &ToolCallTracker{ID: event.ContentBlock.ID, Name: event.ContentBlock.Name}
		c.tools[event.Index] = tracker
		empty := ""
		delta := wire.ChunkDelta{ToolCalls: []wire.ToolCallDelta{{
			Index: event.Index,
			ID:    tracker.ID,
			Type:  "function",
			Function: &wire.ToolCallFuncDelta{
				Name:      tracker.Name,
				Arguments: &empty,
			},
		}}}
		return []Frame{{Chunk: c.newChunk(delta, nil)}}

	case "thinking", "redacted_thinking":
		c.inThinking = true
		c.sawThinking = true
		c.thinking = wire.ContentBlock{
			Type:      event.ContentBlock.Type,
			Thinking:  event.ContentBlock.Thinking,
			Signature: event.ContentBlock.Signature,
			Data:      event.ContentBlock.Data,
		}
	}
	// text block starts produce no output; text flows as deltas.
	return nil
}

func (c *StreamConverter) onBlockDelta(event *wire.StreamEvent) []Frame {
	if event.Delta == nil {
		return nil
	}
	switch event.Delta.Type {
	case "text_delta":
		c.text.WriteString(event.Delta.Text)
		text := event.Delta.Text
		return []Frame{{Chunk: c.newChunk(wire.ChunkDelta{Content: &text}, nil)}}

	case "thinking_delta":
		c.thinking.Thinking += event.Delta.Thinking
		return nil

	case "signature_delta":
		c.thinking.Signature += event.Delta.Signature
		return nil

	case "input_json_delta":
		return c.onToolArguments(event.Index, event.Delta.PartialJSON)
	}
	return nil
}

// onToolArguments handles a partial_json fragment. The upstream sometimes
// streams cumulative snapshots (each a prefix-extending superset of the
// last) and sometimes pure deltas: a fragment that begins with the tracker's
// accumulated arguments is cumulative and only its suffix is emitted;
// anything else is a delta and passes through verbatim.
func (c *StreamConverter) onToolArguments(index int, fragment string) []Frame {
	tracker, ok := c.tools[index]
	if !ok {
		return nil
	}

	part := fragment
	if strings.HasPrefix(fragment, tracker.Arguments) {
		part = fragment[len(tracker.Arguments):]
		tracker.Arguments = fragment
	} else {
		tracker.Arguments += fragment
	}
	if part == "" {
		return nil
	}

	delta := wire.ChunkDelta{ToolCalls: []wire.ToolCallDelta{{
		Index:    index,
		Function: &wire.ToolCallFuncDelta{Arguments: &part},
	}}}
	return []Frame{{Chunk: c.newChunk(delta, nil)}}
}

func (c *StreamConverter) onMessageDelta(event *wire.StreamEvent) []Frame {
	if event.Usage != nil {
		c.accumulateUsage(event.Usage)
	}
	if event.Delta == nil || event.Delta.StopReason == "" {
		return nil
	}
	c.stopReason = event.Delta.StopReason
	finish := MapFinishReason(event.Delta.StopReason)
	return []Frame{{Chunk: c.newChunk(wire.ChunkDelta{}, &finish)}}
}

func (c *StreamConverter) onMessageStop() []Frame {
	var frames []Frame

	if c.inputTokens != 0 || c.outputTokens != 0 {
		chunk := c.newChunk(wire.ChunkDelta{}, nil)
		chunk.Usage = &wire.ChatCompletionUsage{
			PromptTokens:     c.inputTokens,
			CompletionTokens: c.outputTokens,
			TotalTokens:      c.inputTokens + c.outputTokens,
			PromptTokensDetails: &wire.PromptTokensDetails{
				CachedTokens: c.cacheReadTokens,
			},
			// Reasoning tokens are not reported upstream; the zero
			// placeholder keeps wire compatibility.
			CompletionTokensDetails: &wire.CompletionTokensDetails{ReasoningTokens: 0},
		}
		frames = append(frames, Frame{Chunk: chunk})
	}

	frames = append(frames, Frame{Done: true})
	c.done = true
	return frames
}

func (c *StreamConverter) accumulateUsage(u *wire.AnthropicUsage) {
	if u.InputTokens != 0 {
		c.inputTokens = u.InputTokens
	}
	if u.OutputTokens != 0 {
		c.outputTokens = u.OutputTokens
	}
	if u.CacheCreationInputTokens != 0 {
		c.cacheCreationTokens = u.CacheCreationInputTokens
	}
	if u.CacheReadInputTokens != 0 {
		c.cacheReadTokens = u.CacheReadInputTokens
	}
}

func (c *StreamConverter) newChunk(delta wire.ChunkDelta, finish *string) *wire.ChatCompletionChunk {
	return &wire.ChatCompletionChunk{
		ID:      c.id,
		Object:  "chat.completion.chunk",
		Created: c.created,
		Model:   c.model,
		Choices: []wire.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}
