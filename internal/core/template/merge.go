package template

import (
	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
)

// mergeChat produces the MergedChatConfig for one (template, user) pair:
// user value wins when present, else template default, else a hardcoded
// default.
func mergeChat(providerID string, t *ChatTemplate, u UserConfig, stickyKey string) *MergedChatConfig {
	cred := selectCredential(u, stickyKey)

	endpoint := t.Endpoint
	if cred.EndpointOverride != "" {
		endpoint = cred.EndpointOverride
	}

	model := t.DefaultModel
	if u.ModelOverride != "" {
		model = u.ModelOverride
	}

	concurrency := DefaultChatConcurrencyLimit
	if u.ConcurrencyLimit != nil {
		concurrency = *u.ConcurrencyLimit
	}

	// max_tokens resolves through the same three tiers as every other
	// dynamic parameter: user, then the template's default_parameters,
	// then the hardcoded default.
	maxTokens := DefaultMaxTokens
	if field, ok := t.DefaultParameters.Field("max_tokens"); ok {
		if f, ok := field.NumberValue(); ok {
			maxTokens = int(f)
		}
	}
	if u.MaxTokens != nil {
		maxTokens = *u.MaxTokens
	}

	staticOverride, _ := parseOptionalNode(u.StaticParametersOverride)
	static := jsonnode.DeepMerge(t.StaticParameters, staticOverride)

	return &MergedChatConfig{
		ProviderID:       providerID,
		Template:         t,
		User:             u,
		ApiKey:           cred.ApiKey,
		Endpoint:         endpoint,
		Model:            model,
		ConcurrencyLimit: concurrency,
		Temperature:      u.Temperature,
		TopP:             u.TopP,
		TypicalP:         u.TypicalP,
		MaxTokens:        maxTokens,
		StaticParameters: static,
	}
}

func mergeEmbedding(providerID string, t *EmbeddingTemplate, u UserConfig, stickyKey string) *MergedEmbeddingConfig {
	cred := selectCredential(u, stickyKey)

	endpoint := t.Endpoint
	if cred.EndpointOverride != "" {
		endpoint = cred.EndpointOverride
	}

	model := t.DefaultModel
	if u.ModelOverride != "" {
		model = u.ModelOverride
	}

	concurrency := DefaultEmbeddingConcurrencyLimit
	if u.ConcurrencyLimit != nil {
		concurrency = *u.ConcurrencyLimit
	}

	staticOverride, _ := parseOptionalNode(u.StaticParametersOverride)
	static := jsonnode.DeepMerge(t.StaticParameters, staticOverride)

	return &MergedEmbeddingConfig{
		ProviderID:          providerID,
		Template:            t,
		User:                u,
		ApiKey:              cred.ApiKey,
		Endpoint:            endpoint,
		Model:               model,
		ConcurrencyLimit:    concurrency,
		MaxBatchSize:        t.MaxBatchSize,
		NormalizeEmbeddings: t.Normalize,
		StaticParameters:    static,
	}
}
