// Package gateway is the public facade: the single entry point a host
// program calls into, hiding template resolution, translation, admission,
// caching, and the chat/embedding pipelines behind four operations. Which
// provider serves a call is resolved through the injected settings port,
// never hardcoded.
package gateway

import (
	"context"

	"github.com/howard-nolan/llmrouter/internal/core/logging"
	"github.com/howard-nolan/llmrouter/internal/core/model"
	"github.com/howard-nolan/llmrouter/internal/core/pipeline"
	"github.com/howard-nolan/llmrouter/internal/core/template"
)

// SettingsProvider is the read-side settings port the facade resolves active
// providers through. A host's config layer implements this; the gateway
// never reads configuration directly.
type SettingsProvider interface {
	GetActiveChatProviderId() (string, bool)
	GetActiveEmbeddingProviderId() (string, bool)
	IsEmbeddingConfigEnabled() bool
}

// Gateway is the facade itself.
type Gateway struct {
	settings SettingsProvider
	store    *template.Store
	chat     *pipeline.ChatPipeline
	embed    *pipeline.EmbeddingPipeline
	logger   logging.Logger
}

// New wires the facade's dependencies.
func New(settings SettingsProvider, store *template.Store, chat *pipeline.ChatPipeline, embed *pipeline.EmbeddingPipeline, logger logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Gateway{settings: settings, store: store, chat: chat, embed: embed, logger: logger}
}

// GetCompletion implements the single chat call.
func (g *Gateway) GetCompletion(ctx context.Context, req *model.UniformChatRequest) model.Result[*model.UniformChatResponse] {
	providerID, gerr := g.resolveChatProvider()
	if gerr != nil {
		return model.Fail[*model.UniformChatResponse](gerr)
	}
	return g.chat.GetCompletion(ctx, providerID, req)
}

// GetCompletions implements the batch chat call.
func (g *Gateway) GetCompletions(ctx context.Context, reqs []*model.UniformChatRequest) []model.Result[*model.UniformChatResponse] {
	providerID, gerr := g.resolveChatProvider()
	if gerr != nil {
		results := make([]model.Result[*model.UniformChatResponse], len(reqs))
		for i := range results {
			results[i] = model.Fail[*model.UniformChatResponse](gerr)
		}
		return results
	}
	return g.chat.GetCompletions(ctx, providerID, reqs)
}

// GetCompletionStream implements the streaming chat call.
func (g *Gateway) GetCompletionStream(ctx context.Context, req *model.UniformChatRequest) (<-chan model.UniformChatChunk, func() model.Result[*model.UniformChatResponse]) {
	providerID, gerr := g.resolveChatProvider()
	if gerr != nil {
		ch := make(chan model.UniformChatChunk)
		close(ch)
		res := model.Fail[*model.UniformChatResponse](gerr)
		return ch, func() model.Result[*model.UniformChatResponse] { return res }
	}
	return g.chat.GetCompletionStream(ctx, providerID, req)
}

// GetEmbeddings implements the embedding call.
func (g *Gateway) GetEmbeddings(ctx context.Context, req *model.UniformEmbeddingRequest) model.Result[*model.UniformEmbeddingResponse] {
	providerID, gerr := g.resolveEmbeddingProvider()
	if gerr != nil {
		return model.Fail[*model.UniformEmbeddingResponse](gerr)
	}
	return g.embed.GetEmbeddings(ctx, providerID, req)
}

func (g *Gateway) resolveChatProvider() (string, *model.GatewayError) {
	providerID, ok := g.settings.GetActiveChatProviderId()
	if !ok || !g.store.IsChatActive() {
		return "", model.NewError(model.ErrNotConfigured, "no active chat provider configured")
	}
	return providerID, nil
}

// resolveEmbeddingProvider implements the embedding activation fallback: when
// embeddings are disabled (or no distinct embedding provider is set), fall
// back to the active chat provider's id, since several providers serve both
// APIs under the same id and a host shouldn't need to configure it twice.
func (g *Gateway) resolveEmbeddingProvider() (string, *model.GatewayError) {
	if g.settings.IsEmbeddingConfigEnabled() && g.store.IsEmbeddingActive() {
		if providerID, ok := g.settings.GetActiveEmbeddingProviderId(); ok {
			return providerID, nil
		}
	}
	if providerID, ok := g.settings.GetActiveChatProviderId(); ok {
		return providerID, nil
	}
	return "", model.NewError(model.ErrNotConfigured, "no active embedding or chat provider configured")
}
