package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/howard-nolan/llmrouter/internal/core/model"
)

// sendChunks is a test helper that sends chunks on a channel in a goroutine
// and closes the channel when done, simulating what the pipeline does in
// production.
func sendChunks(chunks ...model.UniformChatChunk) <-chan model.UniformChatChunk {
	ch := make(chan model.UniformChatChunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			ch <- c
		}
	}()
	return ch
}

// parseSSEEvents splits the raw SSE output into individual data payloads,
// excluding the "data: [DONE]" sentinel.
func parseSSEEvents(body string) []string {
	var events []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			payload := strings.TrimPrefix(line, "data: ")
			if payload != "[DONE]" {
				events = append(events, payload)
			}
		}
	}
	return events
}

func TestWriteMultipleChunks(t *testing.T) {
	ch := sendChunks(
		model.UniformChatChunk{ContentDelta: "Hello"},
		model.UniformChatChunk{ContentDelta: " world"},
		model.UniformChatChunk{FinishReason: model.FinishStop},
	)

	w := httptest.NewRecorder()
	if err := Write(w, ch); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want %q", cc, "no-cache")
	}

	body := w.Body.String()
	if !strings.Contains(body, "data: [DONE]") {
		t.Error("missing [DONE] sentinel")
	}

	events := parseSSEEvents(body)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	var first sseChunk
	if err := json.Unmarshal([]byte(events[0]), &first); err != nil {
		t.Fatalf("failed to parse event 0: %v", err)
	}
	if first.Choices[0].Delta.Content != "Hello" {
		t.Errorf("event 0 content = %q, want %q", first.Choices[0].Delta.Content, "Hello")
	}
	if first.Choices[0].FinishReason != nil {
		t.Errorf("event 0 finish_reason = %v, want nil", *first.Choices[0].FinishReason)
	}

	var second sseChunk
	if err := json.Unmarshal([]byte(events[1]), &second); err != nil {
		t.Fatalf("failed to parse event 1: %v", err)
	}
	if second.Choices[0].Delta.Content != " world" {
		t.Errorf("event 1 content = %q, want %q", second.Choices[0].Delta.Content, " world")
	}

	var third sseChunk
	if err := json.Unmarshal([]byte(events[2]), &third); err != nil {
		t.Fatalf("failed to parse event 2: %v", err)
	}
	if third.Choices[0].FinishReason == nil || *third.Choices[0].FinishReason != "stop" {
		t.Error("event 2 should have finish_reason=stop")
	}
	if third.Choices[0].Delta.Content != "" {
		t.Errorf("event 2 delta should be empty, got %q", third.Choices[0].Delta.Content)
	}
}

func TestWriteFinalChunkWithContent(t *testing.T) {
	// Simulates a provider sending trailing content and finish_reason in the
	// same terminal chunk.
	ch := sendChunks(
		model.UniformChatChunk{ContentDelta: "Paris is the capital.", FinishReason: model.FinishStop},
	)

	w := httptest.NewRecorder()
	if err := Write(w, ch); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	events := parseSSEEvents(w.Body.String())
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	var content sseChunk
	if err := json.Unmarshal([]byte(events[0]), &content); err != nil {
		t.Fatalf("failed to parse content event: %v", err)
	}
	if content.Choices[0].Delta.Content != "Paris is the capital." {
		t.Errorf("content = %q, want %q", content.Choices[0].Delta.Content, "Paris is the capital.")
	}
	if content.Choices[0].FinishReason != nil {
		t.Error("content event should not have finish_reason")
	}

	var finish sseChunk
	if err := json.Unmarshal([]byte(events[1]), &finish); err != nil {
		t.Fatalf("failed to parse finish event: %v", err)
	}
	if finish.Choices[0].FinishReason == nil || *finish.Choices[0].FinishReason != "stop" {
		t.Error("finish event should have finish_reason=stop")
	}
	if finish.Choices[0].Delta.Content != "" {
		t.Errorf("finish event delta should be empty, got %q", finish.Choices[0].Delta.Content)
	}
}

func TestWriteToolCallChunk(t *testing.T) {
	ch := sendChunks(
		model.UniformChatChunk{
			ToolCalls: []model.ToolCall{{ID: "call_1", Type: "function", FunctionName: "lookup", Arguments: `{"q":"weather"}`}},
		},
		model.UniformChatChunk{FinishReason: model.FinishToolCalls},
	)

	w := httptest.NewRecorder()
	if err := Write(w, ch); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	events := parseSSEEvents(w.Body.String())
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	var first sseChunk
	if err := json.Unmarshal([]byte(events[0]), &first); err != nil {
		t.Fatalf("failed to parse event 0: %v", err)
	}
	if len(first.Choices[0].Delta.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(first.Choices[0].Delta.ToolCalls))
	}
	if first.Choices[0].Delta.ToolCalls[0].Function.Name != "lookup" {
		t.Errorf("tool call function name = %q, want %q", first.Choices[0].Delta.ToolCalls[0].Function.Name, "lookup")
	}
}

func TestWriteSSEFormat(t *testing.T) {
	// Verify the raw SSE format: every event should be "data: ...\n\n".
	ch := sendChunks(
		model.UniformChatChunk{ContentDelta: "hi"},
		model.UniformChatChunk{FinishReason: model.FinishStop},
	)

	w := httptest.NewRecorder()
	if err := Write(w, ch); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	body := w.Body.String()
	if !strings.Contains(body, "data: [DONE]\n\n") {
		t.Error("missing properly formatted [DONE] sentinel")
	}

	parts := strings.Split(body, "\n\n")
	nonEmpty := 0
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty++
		}
	}
	if nonEmpty != 3 {
		t.Errorf("got %d SSE events, want 3 (content + finish + DONE)", nonEmpty)
	}
}
