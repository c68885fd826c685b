package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
	"github.com/howard-nolan/llmrouter/internal/core/model"
	"github.com/howard-nolan/llmrouter/internal/core/template"
)

func mergedForKey(static string) *template.MergedChatConfig {
	node, _ := jsonnode.ParseJSON([]byte(static))
	return &template.MergedChatConfig{
		ProviderID:       "acme",
		Template:         &template.ChatTemplate{},
		Endpoint:         "https://api.acme.test/v1/chat?key={apiKey}",
		Model:            "acme-small",
		MaxTokens:        300,
		StaticParameters: node,
	}
}

func chatReq(content string, stream bool) *model.UniformChatRequest {
	return &model.UniformChatRequest{
		Stream:   stream,
		Messages: []model.ChatMessage{{Role: model.RoleUser, Content: content}},
	}
}

func TestChatCacheKeyIgnoresStreamFlag(t *testing.T) {
	merged := mergedForKey(`{}`)
	streamed := ChatCacheKey(merged, chatReq("hi", true))
	buffered := ChatCacheKey(merged, chatReq("hi", false))
	assert.Equal(t, streamed, buffered,
		"stream and non-stream variants of one request must share a cache entry")
}

func TestChatCacheKeyDeterministicUnderKeyPermutation(t *testing.T) {
	a := ChatCacheKey(mergedForKey(`{"safety":"strict","seed":7}`), chatReq("hi", false))
	b := ChatCacheKey(mergedForKey(`{"seed":7,"safety":"strict"}`), chatReq("hi", false))
	assert.Equal(t, a, b, "fingerprint must not depend on static-parameter key order")
}

func TestChatCacheKeyDiffersByContent(t *testing.T) {
	merged := mergedForKey(`{}`)
	a := ChatCacheKey(merged, chatReq("hi", false))
	b := ChatCacheKey(merged, chatReq("bye", false))
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "chat:acme:acme-small:"))
}

func TestChatCacheKeyDistinguishesToolFields(t *testing.T) {
	merged := mergedForKey(`{}`)

	toolMsg := func(callID string) *model.UniformChatRequest {
		return &model.UniformChatRequest{Messages: []model.ChatMessage{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleTool, Content: "42", ToolCallID: callID},
		}}
	}
	assert.NotEqual(t, ChatCacheKey(merged, toolMsg("call_1")), ChatCacheKey(merged, toolMsg("call_2")),
		"tool messages differing only in tool_call_id are distinct requests")

	plain := &model.UniformChatRequest{Messages: []model.ChatMessage{
		{Role: model.RoleAssistant, Content: ""},
	}}
	withCalls := &model.UniformChatRequest{Messages: []model.ChatMessage{
		{Role: model.RoleAssistant, Content: "", ToolCalls: []model.ToolCall{
			{ID: "1", Type: "function", FunctionName: "lookup", Arguments: "{}"},
		}},
	}}
	assert.NotEqual(t, ChatCacheKey(merged, plain), ChatCacheKey(merged, withCalls),
		"an assistant turn's tool calls are part of the request's identity")
}

func TestEmbeddingCacheKeyIsPerInput(t *testing.T) {
	merged := &template.MergedEmbeddingConfig{ProviderID: "acme", Model: "acme-embed"}
	a := EmbeddingCacheKey(merged, "alpha")
	b := EmbeddingCacheKey(merged, "beta")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, EmbeddingCacheKey(merged, "alpha"))
	assert.True(t, strings.HasPrefix(a, "embed:acme:acme-embed:"))
}
