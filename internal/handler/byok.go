package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"claudebridge/internal/wire"
)

const byokReply = "Hi"

// IsKeyProbe detects the IDE's BYOK key-validation request: a single short
// user message asking the model to just say hi. The probe only checks that
// the endpoint answers like a chat-completions API, so it gets a canned
// reply without touching the upstream.
func IsKeyProbe(req *wire.ProxyRequest) bool {
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(wire.ContentAsString(req.Messages[0].Content)))
	if text == "" {
		return false
	}
	if text == "hi" || text == "test" {
		return true
	}
	return strings.Contains(text, "just say hi") || strings.Contains(text, "test prompt")
}

// WriteKeyProbeReply writes the fixed BYOK bypass response, streaming or not
// to match the request.
func WriteKeyProbeReply(w http.ResponseWriter, req *wire.ProxyRequest) {
	id := "chatcmpl-" + uuid.New().String()
	created := time.Now().Unix()

	if !req.Stream {
		content := byokReply
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wire.ChatCompletionResponse{
			ID:      id,
			Object:  "chat.completion",
			Created: created,
			Model:   req.Model,
			Choices: []wire.ChatCompletionChoice{{
				Message:      wire.ChatCompletionMessage{Role: "assistant", Content: &content},
				FinishReason: "stop",
			}},
			Usage: &wire.ChatCompletionUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		})
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	content := byokReply
	stop := "stop"
	chunks := []wire.ChatCompletionChunk{
		{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: req.Model,
			Choices: []wire.ChunkChoice{{Delta: wire.ChunkDelta{Role: "assistant", Content: &content}}},
		},
		{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: req.Model,
			Choices: []wire.ChunkChoice{{Delta: wire.ChunkDelta{}, FinishReason: &stop}},
		},
	}
	for _, chunk := range chunks {
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
