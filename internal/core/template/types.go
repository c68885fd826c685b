// Package template implements the template store: loading, validating, and
// merging ProviderTemplate + UserConfig pairs into the merged per-call
// config the rest of the core operates on. Documents are per-provider,
// per-kind (chat/embedding), schema-validated on load, and written back
// through an injected settings sink.
package template

import (
	"encoding/json"

	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
)

// Default values applied when neither user nor template specifies a field.
const (
	DefaultChatConcurrencyLimit      = 5
	DefaultEmbeddingConcurrencyLimit = 4
	DefaultMaxTokens                 = 300
	DefaultEmbeddingMaxBatchSize     = 1
)

// ChatRequestPaths names the path descriptors the chat request translator
// writes at. A zero-value Path (IsRoot()) for any optional field means "no
// such path configured": the field is omitted from the body, not defaulted.
type ChatRequestPaths struct {
	Model       jsonnode.Path
	Messages    jsonnode.Path
	Temperature jsonnode.Path
	TopP        jsonnode.Path
	TypicalP    jsonnode.Path
	MaxTokens   jsonnode.Path
	Stream      jsonnode.Path
	Tools       jsonnode.Path
	ToolChoice  jsonnode.Path
}

// ChatResponsePaths names where the response translator reads from. Content,
// ToolCalls, and FinishReason resolve relative to the node Choices selects.
type ChatResponsePaths struct {
	Choices      jsonnode.Path
	Content      jsonnode.Path
	ToolCalls    jsonnode.Path
	FinishReason jsonnode.Path
}

// ToolCallPaths names the fields of one entry in the ToolCalls array.
type ToolCallPaths struct {
	ID           jsonnode.Path
	Type         jsonnode.Path
	FunctionName jsonnode.Path
	Arguments    jsonnode.Path
}

// JSONMode holds the path/value pair written when the caller requests
// forced JSON output and the template supports it.
type JSONMode struct {
	Path  jsonnode.Path
	Value *jsonnode.Node
}

// ChatTemplate is the compiled, ready-to-use form of an on-disk chat
// provider template: string paths have been parsed, StaticParameters/
// DefaultParameters have been decoded into a Node tree once at load time.
type ChatTemplate struct {
	ProviderName string
	AuthHeader   string
	AuthScheme   string
	ExtraHeaders map[string]string

	Endpoint          string
	DefaultModel      string
	DefaultParameters *jsonnode.Node
	RequestPaths      ChatRequestPaths
	ResponsePaths     ChatResponsePaths
	ToolPaths         ToolCallPaths
	JSONMode          *JSONMode

	StaticParameters *jsonnode.Node

	// Transform is an optional Lua snippet run after the declarative body
	// is built, for provider quirks path descriptors can't express. Empty
	// when the template doesn't use it.
	Transform string
}

// EmbeddingRequestPaths mirrors ChatRequestPaths for the embedding API.
type EmbeddingRequestPaths struct {
	Model jsonnode.Path
	Input jsonnode.Path
}

// EmbeddingResponsePaths mirrors ChatResponsePaths for the embedding API.
type EmbeddingResponsePaths struct {
	DataList  jsonnode.Path
	Embedding jsonnode.Path
	Index     jsonnode.Path
}

// EmbeddingTemplate is the compiled ProviderTemplate (Embedding).
type EmbeddingTemplate struct {
	ProviderName string
	AuthHeader   string
	AuthScheme   string
	ExtraHeaders map[string]string

	Endpoint      string
	DefaultModel  string
	MaxBatchSize  int
	RequestPaths  EmbeddingRequestPaths
	ResponsePaths EmbeddingResponsePaths

	StaticParameters *jsonnode.Node

	// Normalize makes the response translator L2-normalize every returned
	// vector before it reaches the caller; not all providers normalize
	// server-side.
	Normalize bool
}

// Credential is one {ApiKey, EndpointOverride} pair. UserConfig's
// CredentialPool holds a slice of these beyond the primary
// ApiKey/EndpointOverride.
type Credential struct {
	ApiKey           string
	EndpointOverride string
}

// UserConfig is the per-provider, per-kind user configuration layered over
// a provider template.
type UserConfig struct {
	ApiKey           string
	ModelOverride    string
	EndpointOverride string

	Temperature *float64
	TopP        *float64
	TypicalP    *float64
	MaxTokens   *int

	ConcurrencyLimit *int
	CustomHeaders    map[string]string

	StaticParametersOverride json.RawMessage

	// CredentialPool: extra credentials beyond the primary pair. Empty
	// means "use ApiKey/EndpointOverride only".
	CredentialPool []Credential
}

// MergedChatConfig is the per-call, immutable result of merging a
// ChatTemplate with a UserConfig.
type MergedChatConfig struct {
	ProviderID string
	Template   *ChatTemplate
	User       UserConfig

	ApiKey           string
	Endpoint         string
	Model            string
	ConcurrencyLimit int

	Temperature *float64
	TopP        *float64
	TypicalP    *float64
	MaxTokens   int

	// StaticParameters is template.StaticParameters deep-merged with
	// user.StaticParametersOverride (user wins field-by-field), ready to
	// seed the translator's body object.
	StaticParameters *jsonnode.Node
}

// MergedEmbeddingConfig is the embedding analogue of MergedChatConfig.
type MergedEmbeddingConfig struct {
	ProviderID string
	Template   *EmbeddingTemplate
	User       UserConfig

	ApiKey           string
	Endpoint         string
	Model            string
	ConcurrencyLimit int
	MaxBatchSize     int

	NormalizeEmbeddings bool

	StaticParameters *jsonnode.Node
}

// SettingsSink is the narrow write-path port the store persists user
// configs through. It is separate from the read-only settings-provider port
// the gateway facade consumes (gateway.SettingsProvider), so the store
// doesn't need to know about read-side settings that are none of its
// business; a host type such as config.Settings implements both.
type SettingsSink interface {
	PersistUserConfig(kind string, providerID string, cfg UserConfig) error
}

// Kind distinguishes the two template/config families the store manages.
type Kind string

const (
	KindChat      Kind = "chat"
	KindEmbedding Kind = "embedding"
)
