// Package stream writes a completed gateway stream out as OpenAI-compatible
// Server-Sent Events: one writer consuming model.UniformChatChunk, the one
// shape every provider template's response translator emits.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/howard-nolan/llmrouter/internal/core/model"
)

// sseChunk is the top-level JSON object in each SSE event, matching the
// OpenAI chat.completion.chunk wire shape so existing OpenAI-compatible
// clients can consume it unmodified.
type sseChunk struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Choices []sseChoice `json:"choices"`
}

// sseChoice represents one choice in the streaming response. The gateway
// always returns exactly one.
type sseChoice struct {
	Index int      `json:"index"`
	Delta sseDelta `json:"delta"`

	// FinishReason is null for every chunk except the final one. *string
	// lets the zero value render as JSON null instead of "".
	FinishReason *string `json:"finish_reason"`
}

// sseDelta holds the incremental content in each chunk.
type sseDelta struct {
	// Content is omitempty so the final chunk sends {"delta":{}} instead of
	// {"delta":{"content":""}}, matching OpenAI's format.
	Content   string           `json:"content,omitempty"`
	ToolCalls []sseToolCallRef `json:"tool_calls,omitempty"`
}

type sseToolCallRef struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function sseToolFunction `json:"function"`
}

type sseToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Write reads UniformChatChunks from chunks and writes them to w as
// OpenAI-compatible Server-Sent Events, one "data: {json}\n\n" line per
// chunk followed by the "data: [DONE]\n\n" sentinel. This is the consumer
// side of gateway.GetCompletionStream's pipeline: pipeline goroutine →
// channel → Write → http.ResponseWriter → client.
func Write(w http.ResponseWriter, chunks <-chan model.UniformChatChunk) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// One id per stream, shared by every event, matching how OpenAI tags
	// all chunks of a completion with the same chat.completion.chunk id.
	id := "chatcmpl-" + uuid.NewString()

	for chunk := range chunks {
		if err := writeEvent(w, flusher, id, chunk); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("writing SSE done marker: %w", err)
	}
	flusher.Flush()
	return nil
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, id string, chunk model.UniformChatChunk) error {
	event := sseChunk{
		ID:     id,
		Object: "chat.completion.chunk",
		Choices: []sseChoice{
			{
				Index: 0,
				Delta: sseDelta{
					Content:   chunk.ContentDelta,
					ToolCalls: toSSEToolCalls(chunk.ToolCalls),
				},
			},
		},
	}

	// Terminal chunks may still carry trailing content; flush
	// that as its own content event before the finish event so a client
	// reading deltas in isolation doesn't lose the final fragment.
	if chunk.FinishReason != "" && (chunk.ContentDelta != "" || len(chunk.ToolCalls) > 0) {
		if err := emit(w, flusher, event); err != nil {
			return err
		}
		event.Choices[0].Delta = sseDelta{}
	}

	if chunk.FinishReason != "" {
		reason := string(chunk.FinishReason)
		event.Choices[0].FinishReason = &reason
	}

	return emit(w, flusher, event)
}

func emit(w http.ResponseWriter, flusher http.Flusher, event sseChunk) error {
	jsonBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling SSE chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonBytes); err != nil {
		return fmt.Errorf("writing SSE event: %w", err)
	}
	flusher.Flush()
	return nil
}

func toSSEToolCalls(calls []model.ToolCall) []sseToolCallRef {
	if len(calls) == 0 {
		return nil
	}
	out := make([]sseToolCallRef, 0, len(calls))
	for _, c := range calls {
		out = append(out, sseToolCallRef{
			ID:   c.ID,
			Type: c.Type,
			Function: sseToolFunction{
				Name:      c.FunctionName,
				Arguments: c.Arguments,
			},
		})
	}
	return out
}
