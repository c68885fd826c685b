package translate

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/howard-nolan/llmrouter/internal/core/httpexec"
	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
	"github.com/howard-nolan/llmrouter/internal/core/logging"
	"github.com/howard-nolan/llmrouter/internal/core/model"
)

func newResponse(status int, body string) *httpexec.Response {
	return &httpexec.Response{
		StatusCode: status,
		Headers:    http.Header{},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func TestParseChatResponseHappyPath(t *testing.T) {
	tpl := sampleChatTemplate()
	merged := sampleMergedChat(tpl)
	resp := newResponse(http.StatusOK, `{"choices":[{"message":{"content":"hi there"},"finish_reason":"stop"}]}`)

	out := ParseChatResponse(merged, resp)
	if out.FinishReason != model.FinishStop {
		t.Errorf("FinishReason = %v", out.FinishReason)
	}
	if out.Message.Content != "hi there" {
		t.Errorf("Content = %q", out.Message.Content)
	}
}

func TestParseChatResponseToolCalls(t *testing.T) {
	tpl := sampleChatTemplate()
	merged := sampleMergedChat(tpl)
	resp := newResponse(http.StatusOK, `{"choices":[{"message":{"content":"","tool_calls":[{"id":"1","type":"function","function_name":"lookup","arguments":"{}"}]},"finish_reason":"tool_calls"}]}`)

	out := ParseChatResponse(merged, resp)
	if out.FinishReason != model.FinishToolCalls {
		t.Errorf("FinishReason = %v", out.FinishReason)
	}
	if len(out.Message.ToolCalls) != 1 || out.Message.ToolCalls[0].FunctionName != "lookup" {
		t.Errorf("ToolCalls = %+v", out.Message.ToolCalls)
	}
}

func TestParseChatResponseProviderError(t *testing.T) {
	tpl := sampleChatTemplate()
	merged := sampleMergedChat(tpl)
	resp := newResponse(http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`)

	out := ParseChatResponse(merged, resp)
	if out.FinishReason != model.FinishError {
		t.Errorf("FinishReason = %v, want error", out.FinishReason)
	}
	if out.Message.Content != "rate limited" {
		t.Errorf("Content = %q, want provider error message surfaced", out.Message.Content)
	}
}

func TestParseChatResponseMalformedBody(t *testing.T) {
	tpl := sampleChatTemplate()
	merged := sampleMergedChat(tpl)
	resp := newResponse(http.StatusOK, `not json`)

	out := ParseChatResponse(merged, resp)
	if out.FinishReason != model.FinishError {
		t.Errorf("FinishReason = %v, want error for malformed body", out.FinishReason)
	}
}

func TestStreamChatResponseAggregation(t *testing.T) {
	tpl := sampleChatTemplate()
	tpl.RequestPaths.Stream = jsonnode.MustParsePath("stream")

	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"\"},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"

	body := io.NopCloser(bytes.NewBufferString(sse))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	merged := sampleMergedChat(tpl)
	ch := StreamChatResponse(ctx, merged, body, logging.Nop{})

	var chunks []model.UniformChatChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}

	// Exactly one chunk carries a non-empty FinishReason, and it's the last
	// one. The provider's finish_reason event is itself the terminal chunk;
	// no synthetic duplicate follows it.
	for i, c := range chunks[:len(chunks)-1] {
		if c.FinishReason != "" {
			t.Errorf("chunk %d has FinishReason %q, only the terminal chunk may", i, c.FinishReason)
		}
	}
	if chunks[len(chunks)-1].FinishReason == "" {
		t.Error("terminal chunk must carry a non-empty FinishReason")
	}
	if len(chunks) != 3 {
		t.Errorf("got %d chunks, want 3 (two deltas plus the finish event)", len(chunks))
	}

	agg := AggregateChatChunks(chunks)
	if agg.Message.Content != "Hello" {
		t.Errorf("aggregated content = %q, want Hello", agg.Message.Content)
	}
	if agg.FinishReason != model.FinishStop {
		t.Errorf("aggregated finish reason = %v, want stop", agg.FinishReason)
	}
}

func TestStreamChatResponseSkipsMalformedChunk(t *testing.T) {
	tpl := sampleChatTemplate()
	sse := "data: {not valid json\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n" +
		"data: [DONE]\n\n"

	body := io.NopCloser(bytes.NewBufferString(sse))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	merged := sampleMergedChat(tpl)
	ch := StreamChatResponse(ctx, merged, body, logging.Nop{})

	var content string
	for c := range ch {
		content += c.ContentDelta
	}
	if content != "ok" {
		t.Errorf("content = %q, want malformed chunk skipped and ok chunk kept", content)
	}
}
