package template

import (
	"encoding/json"

	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
	"github.com/howard-nolan/llmrouter/internal/core/model"
)

// rawChatTemplate mirrors the on-disk provider_template_chat_<id>.json
// shape, decoded field-by-field before path strings are compiled.
type rawChatTemplate struct {
	ProviderName string            `json:"provider_name"`
	AuthHeader   string            `json:"auth_header"`
	AuthScheme   string            `json:"auth_scheme"`
	ExtraHeaders map[string]string `json:"extra_headers"`

	ChatApi struct {
		Endpoint          string          `json:"endpoint"`
		DefaultModel      string          `json:"default_model"`
		DefaultParameters json.RawMessage `json:"default_parameters"`
		RequestPaths      struct {
			Model       string `json:"model"`
			Messages    string `json:"messages"`
			Temperature string `json:"temperature"`
			TopP        string `json:"top_p"`
			TypicalP    string `json:"typical_p"`
			MaxTokens   string `json:"max_tokens"`
			Stream      string `json:"stream"`
			Tools       string `json:"tools"`
			ToolChoice  string `json:"tool_choice"`
		} `json:"request_paths"`
		ResponsePaths struct {
			Choices      string `json:"choices"`
			Content      string `json:"content"`
			ToolCalls    string `json:"tool_calls"`
			FinishReason string `json:"finish_reason"`
		} `json:"response_paths"`
		ToolPaths struct {
			ID           string `json:"id"`
			Type         string `json:"type"`
			FunctionName string `json:"function_name"`
			Arguments    string `json:"arguments"`
		} `json:"tool_paths"`
		JsonMode *struct {
			Path  string          `json:"path"`
			Value json.RawMessage `json:"value"`
		} `json:"json_mode"`
	} `json:"chat_api"`

	StaticParameters json.RawMessage `json:"static_parameters"`
	Transform        string          `json:"transform"`
}

// rawEmbeddingTemplate mirrors provider_template_embedding_<id>.json.
type rawEmbeddingTemplate struct {
	ProviderName string            `json:"provider_name"`
	AuthHeader   string            `json:"auth_header"`
	AuthScheme   string            `json:"auth_scheme"`
	ExtraHeaders map[string]string `json:"extra_headers"`

	EmbeddingApi struct {
		Endpoint     string `json:"endpoint"`
		DefaultModel string `json:"default_model"`
		MaxBatchSize int    `json:"max_batch_size"`
		RequestPaths struct {
			Model string `json:"model"`
			Input string `json:"input"`
		} `json:"request_paths"`
		ResponsePaths struct {
			DataList  string `json:"data_list"`
			Embedding string `json:"embedding"`
			Index     string `json:"index"`
		} `json:"response_paths"`
		Normalize bool `json:"normalize"`
	} `json:"embedding_api"`

	StaticParameters json.RawMessage `json:"static_parameters"`
}

// rawUserConfig mirrors chat_config_<id>.json / embedding_config_<id>.json.
type rawUserConfig struct {
	ApiKey                   string            `json:"api_key"`
	ModelOverride            string            `json:"model_override"`
	EndpointOverride         string            `json:"endpoint_override"`
	Temperature              *float64          `json:"temperature"`
	TopP                     *float64          `json:"top_p"`
	TypicalP                 *float64          `json:"typical_p"`
	MaxTokens                *int              `json:"max_tokens"`
	ConcurrencyLimit         *int              `json:"concurrency_limit"`
	CustomHeaders            map[string]string `json:"custom_headers"`
	StaticParametersOverride json.RawMessage   `json:"static_parameters_override"`
	CredentialPool           []rawCredential   `json:"credential_pool"`
}

type rawCredential struct {
	ApiKey           string `json:"api_key"`
	EndpointOverride string `json:"endpoint_override"`
}

func (r rawUserConfig) toUserConfig() UserConfig {
	u := UserConfig{
		ApiKey:                   r.ApiKey,
		ModelOverride:            r.ModelOverride,
		EndpointOverride:         r.EndpointOverride,
		Temperature:              r.Temperature,
		TopP:                     r.TopP,
		TypicalP:                 r.TypicalP,
		MaxTokens:                r.MaxTokens,
		ConcurrencyLimit:         r.ConcurrencyLimit,
		CustomHeaders:            r.CustomHeaders,
		StaticParametersOverride: r.StaticParametersOverride,
	}
	for _, c := range r.CredentialPool {
		u.CredentialPool = append(u.CredentialPool, Credential{
			ApiKey:           c.ApiKey,
			EndpointOverride: c.EndpointOverride,
		})
	}
	return u
}

// MarshalUserConfig is the write-side counterpart to rawUserConfig.
// toUserConfig: it serializes u back into the chat_config_<id>.json /
// embedding_config_<id>.json document shape that a SettingsSink
// implementation persists to disk.
func MarshalUserConfig(u UserConfig) ([]byte, error) {
	raw := rawUserConfig{
		ApiKey:                   u.ApiKey,
		ModelOverride:            u.ModelOverride,
		EndpointOverride:         u.EndpointOverride,
		Temperature:              u.Temperature,
		TopP:                     u.TopP,
		TypicalP:                 u.TypicalP,
		MaxTokens:                u.MaxTokens,
		ConcurrencyLimit:         u.ConcurrencyLimit,
		CustomHeaders:            u.CustomHeaders,
		StaticParametersOverride: u.StaticParametersOverride,
	}
	for _, c := range u.CredentialPool {
		raw.CredentialPool = append(raw.CredentialPool, rawCredential{
			ApiKey:           c.ApiKey,
			EndpointOverride: c.EndpointOverride,
		})
	}
	return json.MarshalIndent(raw, "", "  ")
}

func compilePath(raw string) (jsonnode.Path, error) {
	if raw == "" {
		return jsonnode.Path{}, nil
	}
	return jsonnode.ParsePath(raw)
}

// compileChatTemplate validates raw against the chat template schema, then
// parses every path string into a jsonnode.Path and decodes the opaque JSON
// blobs into Node trees. Any failure is reported as an invalid-template
// error.
func compileChatTemplate(data []byte) (*ChatTemplate, error) {
	if err := validateChatTemplate(data); err != nil {
		return nil, model.NewError(model.ErrInvalidTemplate, "chat template failed schema validation: %v", err)
	}

	var raw rawChatTemplate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, model.NewError(model.ErrInvalidTemplate, "chat template decode: %v", err)
	}

	t := &ChatTemplate{
		ProviderName: raw.ProviderName,
		AuthHeader:   raw.AuthHeader,
		AuthScheme:   raw.AuthScheme,
		ExtraHeaders: raw.ExtraHeaders,
		Endpoint:     raw.ChatApi.Endpoint,
		DefaultModel: raw.ChatApi.DefaultModel,
		Transform:    raw.Transform,
	}

	var err error
	if t.DefaultParameters, err = parseOptionalNode(raw.ChatApi.DefaultParameters); err != nil {
		return nil, model.NewError(model.ErrInvalidTemplate, "default_parameters: %v", err)
	}
	if t.StaticParameters, err = parseOptionalNode(raw.StaticParameters); err != nil {
		return nil, model.NewError(model.ErrInvalidTemplate, "static_parameters: %v", err)
	}

	paths := &raw.ChatApi.RequestPaths
	if t.RequestPaths.Model, err = compilePath(paths.Model); err != nil {
		return nil, invalidPathErr("request_paths.model", err)
	}
	if t.RequestPaths.Messages, err = compilePath(paths.Messages); err != nil {
		return nil, invalidPathErr("request_paths.messages", err)
	}
	if t.RequestPaths.Temperature, err = compilePath(paths.Temperature); err != nil {
		return nil, invalidPathErr("request_paths.temperature", err)
	}
	if t.RequestPaths.TopP, err = compilePath(paths.TopP); err != nil {
		return nil, invalidPathErr("request_paths.top_p", err)
	}
	if t.RequestPaths.TypicalP, err = compilePath(paths.TypicalP); err != nil {
		return nil, invalidPathErr("request_paths.typical_p", err)
	}
	if t.RequestPaths.MaxTokens, err = compilePath(paths.MaxTokens); err != nil {
		return nil, invalidPathErr("request_paths.max_tokens", err)
	}
	if t.RequestPaths.Stream, err = compilePath(paths.Stream); err != nil {
		return nil, invalidPathErr("request_paths.stream", err)
	}
	if t.RequestPaths.Tools, err = compilePath(paths.Tools); err != nil {
		return nil, invalidPathErr("request_paths.tools", err)
	}
	if t.RequestPaths.ToolChoice, err = compilePath(paths.ToolChoice); err != nil {
		return nil, invalidPathErr("request_paths.tool_choice", err)
	}

	rp := &raw.ChatApi.ResponsePaths
	if t.ResponsePaths.Choices, err = compilePath(rp.Choices); err != nil {
		return nil, invalidPathErr("response_paths.choices", err)
	}
	if t.ResponsePaths.Content, err = compilePath(rp.Content); err != nil {
		return nil, invalidPathErr("response_paths.content", err)
	}
	if t.ResponsePaths.ToolCalls, err = compilePath(rp.ToolCalls); err != nil {
		return nil, invalidPathErr("response_paths.tool_calls", err)
	}
	if t.ResponsePaths.FinishReason, err = compilePath(rp.FinishReason); err != nil {
		return nil, invalidPathErr("response_paths.finish_reason", err)
	}

	tp := &raw.ChatApi.ToolPaths
	if t.ToolPaths.ID, err = compilePath(tp.ID); err != nil {
		return nil, invalidPathErr("tool_paths.id", err)
	}
	if t.ToolPaths.Type, err = compilePath(tp.Type); err != nil {
		return nil, invalidPathErr("tool_paths.type", err)
	}
	if t.ToolPaths.FunctionName, err = compilePath(tp.FunctionName); err != nil {
		return nil, invalidPathErr("tool_paths.function_name", err)
	}
	if t.ToolPaths.Arguments, err = compilePath(tp.Arguments); err != nil {
		return nil, invalidPathErr("tool_paths.arguments", err)
	}

	if raw.ChatApi.JsonMode != nil {
		p, err := compilePath(raw.ChatApi.JsonMode.Path)
		if err != nil {
			return nil, invalidPathErr("json_mode.path", err)
		}
		v, err := parseOptionalNode(raw.ChatApi.JsonMode.Value)
		if err != nil {
			return nil, model.NewError(model.ErrInvalidTemplate, "json_mode.value: %v", err)
		}
		t.JSONMode = &JSONMode{Path: p, Value: v}
	}

	if t.Endpoint == "" {
		return nil, model.NewError(model.ErrInvalidTemplate, "chat_api.endpoint is required")
	}
	if t.RequestPaths.Model.IsRoot() || t.RequestPaths.Messages.IsRoot() {
		return nil, model.NewError(model.ErrInvalidTemplate, "chat_api.request_paths.model and .messages are required")
	}
	if t.ResponsePaths.Choices.IsRoot() || t.ResponsePaths.Content.IsRoot() {
		return nil, model.NewError(model.ErrInvalidTemplate, "chat_api.response_paths.choices and .content are required")
	}

	return t, nil
}

func compileEmbeddingTemplate(data []byte) (*EmbeddingTemplate, error) {
	if err := validateEmbeddingTemplate(data); err != nil {
		return nil, model.NewError(model.ErrInvalidTemplate, "embedding template failed schema validation: %v", err)
	}

	var raw rawEmbeddingTemplate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, model.NewError(model.ErrInvalidTemplate, "embedding template decode: %v", err)
	}

	t := &EmbeddingTemplate{
		ProviderName: raw.ProviderName,
		AuthHeader:   raw.AuthHeader,
		AuthScheme:   raw.AuthScheme,
		ExtraHeaders: raw.ExtraHeaders,
		Endpoint:     raw.EmbeddingApi.Endpoint,
		DefaultModel: raw.EmbeddingApi.DefaultModel,
		MaxBatchSize: raw.EmbeddingApi.MaxBatchSize,
		Normalize:    raw.EmbeddingApi.Normalize,
	}
	if t.MaxBatchSize <= 0 {
		t.MaxBatchSize = DefaultEmbeddingMaxBatchSize
	}

	var err error
	if t.StaticParameters, err = parseOptionalNode(raw.StaticParameters); err != nil {
		return nil, model.NewError(model.ErrInvalidTemplate, "static_parameters: %v", err)
	}

	if t.RequestPaths.Model, err = compilePath(raw.EmbeddingApi.RequestPaths.Model); err != nil {
		return nil, invalidPathErr("embedding_api.request_paths.model", err)
	}
	if t.RequestPaths.Input, err = compilePath(raw.EmbeddingApi.RequestPaths.Input); err != nil {
		return nil, invalidPathErr("embedding_api.request_paths.input", err)
	}
	if t.ResponsePaths.DataList, err = compilePath(raw.EmbeddingApi.ResponsePaths.DataList); err != nil {
		return nil, invalidPathErr("embedding_api.response_paths.data_list", err)
	}
	if t.ResponsePaths.Embedding, err = compilePath(raw.EmbeddingApi.ResponsePaths.Embedding); err != nil {
		return nil, invalidPathErr("embedding_api.response_paths.embedding", err)
	}
	if t.ResponsePaths.Index, err = compilePath(raw.EmbeddingApi.ResponsePaths.Index); err != nil {
		return nil, invalidPathErr("embedding_api.response_paths.index", err)
	}

	if t.Endpoint == "" {
		return nil, model.NewError(model.ErrInvalidTemplate, "embedding_api.endpoint is required")
	}
	if t.RequestPaths.Model.IsRoot() || t.RequestPaths.Input.IsRoot() {
		return nil, model.NewError(model.ErrInvalidTemplate, "embedding_api.request_paths.model and .input are required")
	}
	if t.ResponsePaths.DataList.IsRoot() || t.ResponsePaths.Embedding.IsRoot() {
		return nil, model.NewError(model.ErrInvalidTemplate, "embedding_api.response_paths.data_list and .embedding are required")
	}

	return t, nil
}

func parseOptionalNode(raw json.RawMessage) (*jsonnode.Node, error) {
	if len(raw) == 0 {
		return jsonnode.Object(), nil
	}
	return jsonnode.ParseJSON(raw)
}

func invalidPathErr(field string, cause error) error {
	return model.NewError(model.ErrInvalidTemplate, "%s: %v", field, cause)
}
