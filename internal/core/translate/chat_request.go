// Package translate converts between the uniform model types and each
// provider's declared JSON shape, entirely data-driven from a
// template.ChatTemplate/EmbeddingTemplate's path descriptors, with no
// per-provider Go code.
package translate

import (
	"net/http"
	"strings"

	"github.com/howard-nolan/llmrouter/internal/core/httpexec"
	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
	"github.com/howard-nolan/llmrouter/internal/core/model"
	"github.com/howard-nolan/llmrouter/internal/core/template"
)

// BuildChatRequest turns a uniform chat request into the outbound HTTP call
// a template.MergedChatConfig describes: static parameters first, then
// model, dynamic parameters, messages, stream flag, tools, JSON mode, URL,
// and headers, in that order.
func BuildChatRequest(merged *template.MergedChatConfig, req *model.UniformChatRequest) (*httpexec.Request, error) {
	t := merged.Template

	// Start from the deep-merged static parameters. Clone first: the
	// tree under merged.StaticParameters may alias the template's own
	// StaticParameters (no per-call override present), and every Set below
	// mutates in place.
	body := merged.StaticParameters.Clone()

	if err := setIfPathPresent(&body, t.RequestPaths.Model, jsonnode.String(merged.Model)); err != nil {
		return nil, translationErr("model", err)
	}

	// Dynamic parameters: user overrides template default.
	if err := setDynamicParam(&body, t.RequestPaths.Temperature, merged.Temperature, t.DefaultParameters, "temperature"); err != nil {
		return nil, translationErr("temperature", err)
	}
	if err := setDynamicParam(&body, t.RequestPaths.TopP, merged.TopP, t.DefaultParameters, "top_p"); err != nil {
		return nil, translationErr("top_p", err)
	}
	if err := setDynamicParam(&body, t.RequestPaths.TypicalP, merged.TypicalP, t.DefaultParameters, "typical_p"); err != nil {
		return nil, translationErr("typical_p", err)
	}
	if maxTokensResolved(req, merged) {
		if err := setIfPathPresent(&body, t.RequestPaths.MaxTokens, jsonnode.Number(float64(merged.MaxTokens))); err != nil {
			return nil, translationErr("max_tokens", err)
		}
	}

	if err := setIfPathPresent(&body, t.RequestPaths.Messages, buildMessagesNode(req.Messages, t.ToolPaths)); err != nil {
		return nil, translationErr("messages", err)
	}

	if req.Stream {
		if err := setIfPathPresent(&body, t.RequestPaths.Stream, jsonnode.Bool(true)); err != nil {
			return nil, translationErr("stream", err)
		}
	}

	if len(req.Tools) > 0 && !t.RequestPaths.Tools.IsRoot() {
		if err := jsonnode.Set(&body, t.RequestPaths.Tools, buildToolsNode(req.Tools)); err != nil {
			return nil, translationErr("tools", err)
		}
		if !t.RequestPaths.ToolChoice.IsRoot() {
			if err := jsonnode.Set(&body, t.RequestPaths.ToolChoice, jsonnode.String("auto")); err != nil {
				return nil, translationErr("tool_choice", err)
			}
		}
	}

	if req.ForceJSONOutput && t.JSONMode != nil {
		if err := jsonnode.Set(&body, t.JSONMode.Path, t.JSONMode.Value); err != nil {
			return nil, translationErr("json_mode", err)
		}
	}

	// The optional Lua transform hook runs last, after the declarative body
	// is fully built.
	if t.Transform != "" {
		if err := applyTransform(&body, t.Transform); err != nil {
			return nil, translationErr("transform", err)
		}
	}

	url := strings.ReplaceAll(merged.Endpoint, "{apiKey}", merged.ApiKey)
	headers := composeHeaders(t.AuthHeader, t.AuthScheme, t.ExtraHeaders, merged.User.CustomHeaders, merged.ApiKey)

	payload, err := body.ToJSON()
	if err != nil {
		return nil, translationErr("serialize", err)
	}

	return &httpexec.Request{
		Method:   http.MethodPost,
		URL:      url,
		Headers:  headers,
		Body:     payload,
		Stream:   req.Stream,
		Provider: merged.ProviderID,
	}, nil
}

func maxTokensResolved(req *model.UniformChatRequest, merged *template.MergedChatConfig) bool {
	// merged.MaxTokens already folds in user → default (template.DefaultMaxTokens);
	// a request-level override (if ever added) would take precedence here.
	return merged.MaxTokens > 0
}

func setDynamicParam(body **jsonnode.Node, path jsonnode.Path, userValue *float64, defaults *jsonnode.Node, key string) error {
	if path.IsRoot() {
		return nil
	}
	var value *float64
	if userValue != nil {
		value = userValue
	} else if field, ok := defaults.Field(key); ok {
		if f, ok := field.NumberValue(); ok {
			value = &f
		}
	}
	if value == nil {
		return nil
	}
	return jsonnode.Set(body, path, jsonnode.Number(*value))
}

func setIfPathPresent(body **jsonnode.Node, path jsonnode.Path, value *jsonnode.Node) error {
	if path.IsRoot() {
		return nil
	}
	return jsonnode.Set(body, path, value)
}

func buildMessagesNode(messages []model.ChatMessage, toolPaths template.ToolCallPaths) *jsonnode.Node {
	arr := jsonnode.Array()
	for _, m := range messages {
		msg := jsonnode.Object()
		msg.SetField("role", jsonnode.String(string(m.Role)))
		msg.SetField("content", jsonnode.String(m.Content))
		if m.Role == model.RoleAssistant && len(m.ToolCalls) > 0 {
			msg.SetField("tool_calls", buildToolCallsNode(m.ToolCalls, toolPaths))
		}
		if m.Role == model.RoleTool {
			msg.SetField("tool_call_id", jsonnode.String(m.ToolCallID))
		}
		arr.AppendItem(msg)
	}
	return arr
}

func buildToolCallsNode(calls []model.ToolCall, paths template.ToolCallPaths) *jsonnode.Node {
	arr := jsonnode.Array()
	for _, c := range calls {
		item := jsonnode.Object()
		setToolCallField(item, paths.ID, "id", c.ID)
		setToolCallField(item, paths.Type, "type", c.Type)
		setToolCallField(item, paths.FunctionName, "function_name", c.FunctionName)
		setToolCallField(item, paths.Arguments, "arguments", c.Arguments)
		arr.AppendItem(item)
	}
	return arr
}

// setToolCallField writes one field of a tool-call item at the template's
// configured relative path (which may be nested, e.g. "function.name"),
// falling back to the canonical name when the template doesn't override it.
func setToolCallField(item *jsonnode.Node, path jsonnode.Path, fallback, value string) {
	if path.IsRoot() {
		path = jsonnode.MustParsePath(fallback)
	}
	_ = jsonnode.Set(&item, path, jsonnode.String(value))
}

func buildToolsNode(tools []model.ToolDefinition) *jsonnode.Node {
	arr := jsonnode.Array()
	for _, tool := range tools {
		obj := jsonnode.Object()
		obj.SetField("name", jsonnode.String(tool.Name))
		obj.SetField("description", jsonnode.String(tool.Description))
		obj.SetField("parameters", jsonnode.FromAny(tool.Parameters))
		arr.AppendItem(obj)
	}
	return arr
}

func composeHeaders(authHeader, authScheme string, templateHeaders, userHeaders map[string]string, apiKey string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	for k, v := range templateHeaders {
		h.Set(k, v)
	}
	for k, v := range userHeaders {
		h.Set(k, v) // user CustomHeaders override template headers
	}
	if authHeader != "" && apiKey != "" {
		h.Set(authHeader, strings.TrimSpace(authScheme+" "+apiKey))
	}
	return h
}

func translationErr(field string, cause error) error {
	return model.NewError(model.ErrTranslation, "translating %s: %v", field, cause)
}
