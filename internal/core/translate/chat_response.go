package translate

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/howard-nolan/llmrouter/internal/core/httpexec"
	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
	"github.com/howard-nolan/llmrouter/internal/core/logging"
	"github.com/howard-nolan/llmrouter/internal/core/model"
	"github.com/howard-nolan/llmrouter/internal/core/template"
)

const sseDone = "[DONE]"

// ParseChatResponse implements the non-streaming half of the response
// translator: extract the first choice's content, tool
// calls, and finish reason at the template's configured paths. A provider
// error payload or a malformed body both surface as a FinishError response
// carrying the diagnostic in Message.Content, rather than a Go error;
// callers that want to treat that as a hard failure check FinishReason.
func ParseChatResponse(merged *template.MergedChatConfig, resp *httpexec.Response) *model.UniformChatResponse {
	t := merged.Template

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorChatResponse("reading response body: " + err.Error())
	}
	root, err := jsonnode.ParseJSON(raw)
	if err != nil {
		return errorChatResponse("malformed response body: " + err.Error())
	}

	if resp.StatusCode >= 400 {
		return errorChatResponse(providerErrorMessage(root, resp.StatusCode))
	}

	choice, ok := jsonnode.Get(root, t.ResponsePaths.Choices)
	if !ok {
		return errorChatResponse("response missing choices at configured path")
	}
	// Choices is templated as an array path with the [0] index baked in by
	// the template author ("choices[0]"), so Get already lands on the
	// single choice object.

	content, _ := jsonnode.GetString(choice, t.ResponsePaths.Content)
	finish := extractFinishReason(choice, t.ResponsePaths.FinishReason)
	toolCalls := extractToolCalls(choice, t.ResponsePaths.ToolCalls, t.ToolPaths)

	msg := model.ChatMessage{
		Role:      model.RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	}
	if len(toolCalls) > 0 && finish == "" {
		finish = model.FinishToolCalls
	}
	if finish == "" {
		finish = model.FinishStop
	}

	out := &model.UniformChatResponse{FinishReason: finish, Message: msg}
	if !model.ValidateChatResponse(out) {
		return errorChatResponse("provider response violates finish-reason/tool-call invariant")
	}
	return out
}

func extractFinishReason(choice *jsonnode.Node, path jsonnode.Path) model.FinishReason {
	if path.IsRoot() {
		return ""
	}
	s, ok := jsonnode.GetString(choice, path)
	if !ok || s == "" {
		return ""
	}
	return normalizeFinishReason(s)
}

// normalizeFinishReason maps each provider's own vocabulary onto the uniform
// FinishReason set: OpenAI-style "stop"/"length"/"tool_calls"/
// "content_filter", Anthropic-style "end_turn"/"max_tokens"/"tool_use",
// Gemini-style "STOP"/"MAX_TOKENS".
func normalizeFinishReason(raw string) model.FinishReason {
	switch strings.ToLower(raw) {
	case "stop", "end_turn", "stop_sequence":
		return model.FinishStop
	case "length", "max_tokens":
		return model.FinishLength
	case "tool_calls", "tool_use", "function_call":
		return model.FinishToolCalls
	case "content_filter", "safety":
		return model.FinishContentFilter
	default:
		return model.FinishStop
	}
}

func extractToolCalls(choice *jsonnode.Node, path jsonnode.Path, paths template.ToolCallPaths) []model.ToolCall {
	if path.IsRoot() {
		return nil
	}
	node, ok := jsonnode.Get(choice, path)
	if !ok || node.Kind() != jsonnode.KindArray {
		return nil
	}
	items := node.Items()
	calls := make([]model.ToolCall, 0, len(items))
	for _, item := range items {
		calls = append(calls, model.ToolCall{
			ID:           fieldOr(item, paths.ID, "id"),
			Type:         fieldOr(item, paths.Type, "type"),
			FunctionName: fieldOr(item, paths.FunctionName, "function_name"),
			Arguments:    fieldOr(item, paths.Arguments, "arguments"),
		})
	}
	return calls
}

// fieldOr reads one field of a tool-call item at the template's configured
// relative path (which may be nested, e.g. "function.name"), falling back to
// the canonical field name when the template doesn't configure one.
func fieldOr(item *jsonnode.Node, path jsonnode.Path, fallback string) string {
	if path.IsRoot() {
		path = jsonnode.MustParsePath(fallback)
	}
	s, _ := jsonnode.GetString(item, path)
	return s
}

func providerErrorMessage(root *jsonnode.Node, status int) string {
	if msg, ok := jsonnode.GetString(root, jsonnode.MustParsePath("error.message")); ok {
		return msg
	}
	if msg, ok := jsonnode.GetString(root, jsonnode.MustParsePath("message")); ok {
		return msg
	}
	return "provider returned HTTP status with no error.message field"
}

func errorChatResponse(msg string) *model.UniformChatResponse {
	return &model.UniformChatResponse{
		FinishReason: model.FinishError,
		Message:      model.ChatMessage{Role: model.RoleAssistant, Content: msg},
	}
}

// StreamChatResponse implements the streaming half of the response
// translator: it reads body as SSE line-by-line, decoding each "data: "
// payload at the template's response paths and emitting one
// UniformChatChunk per event. A goroutine owns the body, closes it on
// return, and every send respects ctx cancellation. Decoding is entirely
// path-descriptor driven so one implementation serves every template.
func StreamChatResponse(ctx context.Context, merged *template.MergedChatConfig, body io.ReadCloser, logger logging.Logger) <-chan model.UniformChatChunk {
	t := merged.Template
	ch := make(chan model.UniformChatChunk)

	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		lastFinish := model.FinishStop
		finishSent := false
		var pending strings.Builder

		flush := func() bool {
			if pending.Len() == 0 {
				return true
			}
			payload := pending.String()
			pending.Reset()
			if payload == sseDone {
				return true
			}
			chunk, finish, ok := decodeChatChunk(payload, t)
			if !ok {
				logger.Warning("skipping malformed chat stream chunk for provider %s", merged.ProviderID)
				return true
			}
			if finish != "" {
				lastFinish = finish
			}
			select {
			case ch <- chunk:
				if chunk.FinishReason != "" {
					finishSent = true
				}
				return true
			case <-ctx.Done():
				return false
			}
		}

	scan:
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if !flush() {
					return
				}
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimPrefix(line, "data:")
				data = strings.TrimPrefix(data, " ")
				if pending.Len() > 0 {
					pending.WriteByte('\n')
				}
				pending.WriteString(data)
				if data == sseDone {
					break scan
				}
			default:
				// "event:", ":" comments, and anything else are ignored;
				// the JSON payload's own shape tells us what we need.
			}
		}
		flush()

		// The sequence ends with exactly one chunk carrying a non-empty
		// FinishReason. When the provider's last real event already carried
		// one (the usual OpenAI shape: a finish_reason event, then [DONE]),
		// that chunk was the terminal chunk and no synthetic one follows.
		if finishSent {
			return
		}
		select {
		case ch <- model.UniformChatChunk{FinishReason: lastFinish}:
		case <-ctx.Done():
		}
	}()

	return ch
}

// decodeChatChunk parses one SSE data payload into a content-delta chunk.
// ok is false for a payload that isn't valid JSON at all; a payload that
// parses but lacks a delta at the template's path yields a content-less
// chunk (ok true, empty ContentDelta) rather than being treated as malformed,
// since some providers emit metadata-only events mid-stream.
func decodeChatChunk(payload string, t *template.ChatTemplate) (model.UniformChatChunk, model.FinishReason, bool) {
	root, err := jsonnode.ParseJSON([]byte(payload))
	if err != nil {
		return model.UniformChatChunk{}, "", false
	}

	// Streaming events carry the same choices[0] envelope as a non-streaming
	// response; only the field inside it (delta vs message) differs. Some
	// providers omit the envelope on metadata-only events, in which case the
	// fields below are simply absent and the chunk is content-less.
	choice, ok := jsonnode.Get(root, t.ResponsePaths.Choices)
	if !ok {
		choice = root
	}

	var delta string
	if !t.ResponsePaths.Content.IsRoot() {
		if s, ok := jsonnode.GetString(choice, deltaPath(t.ResponsePaths.Content)); ok {
			delta = s
		} else if s, ok := jsonnode.GetString(choice, t.ResponsePaths.Content); ok {
			delta = s
		}
	}

	var finish model.FinishReason
	if !t.ResponsePaths.FinishReason.IsRoot() {
		if s, ok := jsonnode.GetString(choice, t.ResponsePaths.FinishReason); ok && s != "" {
			finish = normalizeFinishReason(s)
		}
	}

	var calls []model.ToolCall
	if !t.ResponsePaths.ToolCalls.IsRoot() {
		calls = extractToolCalls(choice, t.ResponsePaths.ToolCalls, t.ToolPaths)
	}

	return model.UniformChatChunk{ContentDelta: delta, FinishReason: finish, ToolCalls: calls}, finish, true
}

// deltaPath rewrites a "choices[0].message.content"-shaped non-streaming path
// into its streaming-delta equivalent "choices[0].delta.content", matching
// the OpenAI-style SSE chunk convention. Templates whose streaming shape doesn't
// fit this convention fall back to the literal ResponsePaths.Content path
// (handled by the caller's second attempt).
func deltaPath(contentPath jsonnode.Path) jsonnode.Path {
	raw := contentPath.String()
	switch {
	case raw == "message":
		return jsonnode.MustParsePath("delta")
	case strings.HasPrefix(raw, "message."):
		return jsonnode.MustParsePath("delta." + strings.TrimPrefix(raw, "message."))
	case strings.Contains(raw, ".message."):
		return jsonnode.MustParsePath(strings.Replace(raw, ".message.", ".delta.", 1))
	default:
		return contentPath
	}
}

// AggregateChatChunks combines a completed stream into the same
// UniformChatResponse shape a non-streaming call would have produced:
// ContentDelta values concatenate, the last
// non-empty ToolCalls list wins, and FinishReason comes from the terminal
// chunk.
func AggregateChatChunks(chunks []model.UniformChatChunk) *model.UniformChatResponse {
	var content strings.Builder
	var toolCalls []model.ToolCall
	finish := model.FinishStop

	for _, c := range chunks {
		content.WriteString(c.ContentDelta)
		if len(c.ToolCalls) > 0 {
			toolCalls = c.ToolCalls
		}
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}

	return &model.UniformChatResponse{
		FinishReason: finish,
		Message: model.ChatMessage{
			Role:      model.RoleAssistant,
			Content:   content.String(),
			ToolCalls: toolCalls,
		},
	}
}
