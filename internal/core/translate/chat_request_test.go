package translate

import (
	"encoding/json"
	"testing"

	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
	"github.com/howard-nolan/llmrouter/internal/core/model"
	"github.com/howard-nolan/llmrouter/internal/core/template"
)

func sampleChatTemplate() *template.ChatTemplate {
	defaults, _ := jsonnode.ParseJSON([]byte(`{"temperature":0.5,"top_p":1.0}`))
	static, _ := jsonnode.ParseJSON([]byte(`{"stream_options":{"include_usage":true}}`))
	return &template.ChatTemplate{
		ProviderName:      "openai-like",
		AuthHeader:        "Authorization",
		AuthScheme:        "Bearer",
		Endpoint:          "https://api.example.com/v1/chat/completions?key={apiKey}",
		DefaultModel:      "gpt-test",
		DefaultParameters: defaults,
		StaticParameters:  static,
		RequestPaths: template.ChatRequestPaths{
			Model:       jsonnode.MustParsePath("model"),
			Messages:    jsonnode.MustParsePath("messages"),
			Temperature: jsonnode.MustParsePath("temperature"),
			TopP:        jsonnode.MustParsePath("top_p"),
			MaxTokens:   jsonnode.MustParsePath("max_tokens"),
			Stream:      jsonnode.MustParsePath("stream"),
			Tools:       jsonnode.MustParsePath("tools"),
			ToolChoice:  jsonnode.MustParsePath("tool_choice"),
		},
		ResponsePaths: template.ChatResponsePaths{
			Choices:      jsonnode.MustParsePath("choices[0]"),
			Content:      jsonnode.MustParsePath("message.content"),
			ToolCalls:    jsonnode.MustParsePath("message.tool_calls"),
			FinishReason: jsonnode.MustParsePath("finish_reason"),
		},
		ToolPaths: template.ToolCallPaths{
			ID:           jsonnode.MustParsePath("id"),
			Type:         jsonnode.MustParsePath("type"),
			FunctionName: jsonnode.MustParsePath("function_name"),
			Arguments:    jsonnode.MustParsePath("arguments"),
		},
	}
}

func sampleMergedChat(t *template.ChatTemplate) *template.MergedChatConfig {
	return &template.MergedChatConfig{
		ProviderID:       "openai-like",
		Template:         t,
		ApiKey:           "secret-key",
		Endpoint:         t.Endpoint,
		Model:            t.DefaultModel,
		MaxTokens:        256,
		StaticParameters: t.StaticParameters,
	}
}

func TestBuildChatRequestBasicFields(t *testing.T) {
	tpl := sampleChatTemplate()
	merged := sampleMergedChat(tpl)
	req := &model.UniformChatRequest{
		Messages: []model.ChatMessage{
			{Role: model.RoleUser, Content: "hello"},
		},
	}

	out, err := BuildChatRequest(merged, req)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	if out.URL != "https://api.example.com/v1/chat/completions?key=secret-key" {
		t.Errorf("URL = %q, apiKey substitution failed", out.URL)
	}
	if out.Headers.Get("Authorization") != "Bearer secret-key" {
		t.Errorf("Authorization header = %q", out.Headers.Get("Authorization"))
	}

	var body map[string]any
	if err := json.Unmarshal(out.Body, &body); err != nil {
		t.Fatalf("body not valid JSON: %v", err)
	}
	if body["model"] != "gpt-test" {
		t.Errorf("model = %v", body["model"])
	}
	if body["temperature"] != 0.5 {
		t.Errorf("temperature should fall back to template default, got %v", body["temperature"])
	}
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages = %v", body["messages"])
	}
	so, ok := body["stream_options"].(map[string]any)
	if !ok || so["include_usage"] != true {
		t.Errorf("static parameters should survive into body: %v", body["stream_options"])
	}
}

func TestBuildChatRequestDoesNotMutateTemplateStaticParameters(t *testing.T) {
	tpl := sampleChatTemplate()
	merged := sampleMergedChat(tpl)
	req := &model.UniformChatRequest{Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}}}

	if _, err := BuildChatRequest(merged, req); err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}

	if _, ok := tpl.StaticParameters.Field("model"); ok {
		t.Error("building a request must not write fields back into the shared template StaticParameters tree")
	}
}

func TestBuildChatRequestUserTemperatureOverridesDefault(t *testing.T) {
	tpl := sampleChatTemplate()
	merged := sampleMergedChat(tpl)
	userTemp := 0.9
	merged.Temperature = &userTemp
	req := &model.UniformChatRequest{Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}}}

	out, err := BuildChatRequest(merged, req)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	var body map[string]any
	json.Unmarshal(out.Body, &body)
	if body["temperature"] != 0.9 {
		t.Errorf("temperature = %v, want user override 0.9", body["temperature"])
	}
}

func TestBuildChatRequestForceJSONMode(t *testing.T) {
	tpl := sampleChatTemplate()
	tpl.JSONMode = &template.JSONMode{
		Path:  jsonnode.MustParsePath("response_format.type"),
		Value: jsonnode.String("json_object"),
	}
	merged := sampleMergedChat(tpl)
	req := &model.UniformChatRequest{
		Messages:        []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}},
		ForceJSONOutput: true,
	}

	out, err := BuildChatRequest(merged, req)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	var body map[string]any
	json.Unmarshal(out.Body, &body)
	rf, ok := body["response_format"].(map[string]any)
	if !ok || rf["type"] != "json_object" {
		t.Errorf("response_format = %v", body["response_format"])
	}
}

func TestBuildChatRequestToolsAndCustomHeaders(t *testing.T) {
	tpl := sampleChatTemplate()
	merged := sampleMergedChat(tpl)
	merged.User.CustomHeaders = map[string]string{"X-Org": "acme"}
	req := &model.UniformChatRequest{
		Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}},
		Tools: []model.ToolDefinition{
			{Name: "lookup", Description: "look things up", Parameters: map[string]any{"type": "object"}},
		},
	}

	out, err := BuildChatRequest(merged, req)
	if err != nil {
		t.Fatalf("BuildChatRequest: %v", err)
	}
	if out.Headers.Get("X-Org") != "acme" {
		t.Errorf("custom header missing: %v", out.Headers)
	}
	var body map[string]any
	json.Unmarshal(out.Body, &body)
	tools, ok := body["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("tools = %v", body["tools"])
	}
	if body["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v, want auto", body["tool_choice"])
	}
}
