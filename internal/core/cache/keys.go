// Package cache implements the response cache: a two-tier (in-memory LRU +
// optional Redis) TTL cache keyed by a fingerprint of the exact request that
// would be sent, plus single-flight coalescing so concurrent identical calls
// share one upstream round trip.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
	"github.com/howard-nolan/llmrouter/internal/core/model"
	"github.com/howard-nolan/llmrouter/internal/core/template"
)

// ChatCacheKey builds the cache key for a chat call: a SHA-256 fingerprint
// over a canonical JSON object built field-by-field in a
// fixed order, deliberately excluding the Stream flag (a streamed and
// non-streamed call with otherwise identical parameters are the same
// logical request and should share a cache entry/in-flight join).
func ChatCacheKey(merged *template.MergedChatConfig, req *model.UniformChatRequest) string {
	fp := jsonnode.Object()
	fp.SetField("ns", jsonnode.String("chat"))
	fp.SetField("provider", jsonnode.String(merged.ProviderID))
	fp.SetField("endpoint", jsonnode.String(redactEndpoint(merged.Endpoint)))
	fp.SetField("model", jsonnode.String(merged.Model))
	fp.SetField("body", chatFingerprintBody(merged, req))

	hash := sha256.Sum256([]byte(fp.Canonical()))
	return "chat:" + merged.ProviderID + ":" + merged.Model + ":" + hex.EncodeToString(hash[:])
}

func chatFingerprintBody(merged *template.MergedChatConfig, req *model.UniformChatRequest) *jsonnode.Node {
	body := jsonnode.Object()

	// Messages are normalized the same way the request translator's
	// buildMessagesNode emits them: role and content always, tool_call_id on
	// tool messages, tool_calls when present. Leaving the tool fields out
	// would make two requests that differ only in a tool result's id (or an
	// assistant turn's tool calls) hash identically and share a cache entry.
	messages := jsonnode.Array()
	for _, m := range req.Messages {
		msg := jsonnode.Object()
		msg.SetField("role", jsonnode.String(string(m.Role)))
		msg.SetField("content", jsonnode.String(m.Content))
		if m.Role == model.RoleTool {
			msg.SetField("tool_call_id", jsonnode.String(m.ToolCallID))
		}
		if len(m.ToolCalls) > 0 {
			calls := jsonnode.Array()
			for _, c := range m.ToolCalls {
				call := jsonnode.Object()
				call.SetField("id", jsonnode.String(c.ID))
				call.SetField("type", jsonnode.String(c.Type))
				call.SetField("function_name", jsonnode.String(c.FunctionName))
				call.SetField("arguments", jsonnode.String(c.Arguments))
				calls.AppendItem(call)
			}
			msg.SetField("tool_calls", calls)
		}
		messages.AppendItem(msg)
	}
	body.SetField("messages", messages)

	tools := jsonnode.Array()
	for _, tl := range req.Tools {
		t := jsonnode.Object()
		t.SetField("name", jsonnode.String(tl.Name))
		t.SetField("description", jsonnode.String(tl.Description))
		t.SetField("parameters", jsonnode.FromAny(tl.Parameters))
		tools.AppendItem(t)
	}
	body.SetField("tools", tools)

	params := jsonnode.Object()
	setOptionalFloat(params, "temperature", merged.Temperature)
	setOptionalFloat(params, "top_p", merged.TopP)
	setOptionalFloat(params, "typical_p", merged.TypicalP)
	params.SetField("max_tokens", jsonnode.Number(float64(merged.MaxTokens)))
	body.SetField("parameters", params)

	body.SetField("static", merged.StaticParameters)

	jsonMode := jsonnode.Object()
	jsonMode.SetField("enabled", jsonnode.Bool(req.ForceJSONOutput))
	if merged.Template.JSONMode != nil {
		jsonMode.SetField("value", merged.Template.JSONMode.Value)
	} else {
		jsonMode.SetField("value", jsonnode.Null())
	}
	body.SetField("json_mode", jsonMode)

	return body
}

func setOptionalFloat(obj *jsonnode.Node, key string, v *float64) {
	if v == nil {
		obj.SetField(key, jsonnode.Null())
		return
	}
	obj.SetField(key, jsonnode.Number(*v))
}

// redactEndpoint collapses the {apiKey} placeholder to a fixed token before
// fingerprinting, so the API key itself never enters the cache key. The
// endpoint is the merged one: when the selected credential carries an
// EndpointOverride, that override is what gets fingerprinted.
func redactEndpoint(endpoint string) string {
	return strings.ReplaceAll(endpoint, "{apiKey}", "{key}")
}

// EmbeddingCacheKey builds the cache key for one embedding input.
// Embeddings are cached per-input, independent of which batch they were
// submitted in, since two batches sharing one input string should share
// that input's cached vector.
func EmbeddingCacheKey(merged *template.MergedEmbeddingConfig, input string) string {
	hash := sha256.Sum256([]byte(input))
	return "embed:" + merged.ProviderID + ":" + merged.Model + ":" + hex.EncodeToString(hash[:])
}
