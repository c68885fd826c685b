// Package pipeline strings the template store, translators, admission
// controller, HTTP executor, and cache together into the single, batch, and
// streaming call shapes the gateway facade exposes.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/howard-nolan/llmrouter/internal/core/admission"
	"github.com/howard-nolan/llmrouter/internal/core/cache"
	"github.com/howard-nolan/llmrouter/internal/core/httpexec"
	"github.com/howard-nolan/llmrouter/internal/core/logging"
	"github.com/howard-nolan/llmrouter/internal/core/metrics"
	"github.com/howard-nolan/llmrouter/internal/core/model"
	"github.com/howard-nolan/llmrouter/internal/core/template"
	"github.com/howard-nolan/llmrouter/internal/core/translate"
)

// streamClaim lets one call become the streaming "leader" for a cache key
// while concurrent callers for the same key become joiners that wait for the
// leader's result instead of issuing their own upstream call.
// singleflight.Group's synchronous factory shape can't deliver incremental
// chunks to more than one caller, so streaming keeps its own claim map.
type streamClaim struct {
	done   chan struct{}
	result *model.UniformChatResponse
	err    error
}

// ChatPipeline orchestrates chat calls. Build one per process (or per
// provider family, if a deployment wants isolated caches) and share it
// across requests.
type ChatPipeline struct {
	store     *template.Store
	executor  *httpexec.Executor
	admission *admission.Controller
	cache     *cache.Store[*model.UniformChatResponse]
	retry     httpexec.RetryPolicy
	logger    logging.Logger
	metrics   metrics.Sink

	streamMu  sync.Mutex
	streaming map[string]*streamClaim
}

// NewChatPipeline wires the pipeline's dependencies. A nil logger/metrics
// defaults to the no-op implementations.
func NewChatPipeline(store *template.Store, executor *httpexec.Executor, adm *admission.Controller, c *cache.Store[*model.UniformChatResponse], retry httpexec.RetryPolicy, logger logging.Logger, sink metrics.Sink) *ChatPipeline {
	if logger == nil {
		logger = logging.Nop{}
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &ChatPipeline{
		store:     store,
		executor:  executor,
		admission: adm,
		cache:     c,
		retry:     retry,
		logger:    logger,
		metrics:   sink,
		streaming: make(map[string]*streamClaim),
	}
}

// stickyKeyFor picks the credential-selection key: the conversation id when
// the caller supplies one, otherwise a digest of the request itself. The
// digest fallback matters for stateless traffic: a constant fallback would
// rendezvous-hash every no-ConversationID call to the same pool entry,
// defeating the credential pool's load distribution for exactly the traffic
// that needs it. The full cache fingerprint isn't computable yet (it
// includes the endpoint, which depends on the credential being selected
// here), so this hashes the pre-merge request instead.
func stickyKeyFor(providerID string, req *model.UniformChatRequest) string {
	if req.ConversationID != "" {
		return req.ConversationID
	}
	h := sha256.New()
	h.Write([]byte(providerID))
	h.Write([]byte{0})
	for _, m := range req.Messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetCompletion implements the single, non-streaming chat call: resolve the
// merged config, compute the cache/fingerprint key, and either serve a
// cached hit or join/lead a single-flighted fetch.
func (p *ChatPipeline) GetCompletion(ctx context.Context, providerID string, req *model.UniformChatRequest) model.Result[*model.UniformChatResponse] {
	mergedRes := p.store.GetMergedChat(providerID, stickyKeyFor(providerID, req))
	if !mergedRes.IsOk() {
		return model.Fail[*model.UniformChatResponse](mergedRes.Err())
	}
	merged := mergedRes.Value()

	key := cache.ChatCacheKey(merged, req)
	value, err, cached := p.cache.GetOrJoin(ctx, key, func(factoryCtx context.Context) (*model.UniformChatResponse, error) {
		return p.produce(factoryCtx, merged, req)
	})
	p.metrics.ObserveCacheResult(cached)
	if err != nil {
		return model.Fail[*model.UniformChatResponse](asGatewayErr(err))
	}
	return model.Ok(value)
}

// produce performs one real upstream call: admission, translate, execute,
// translate back. It never touches the cache itself (that's GetOrJoin's job);
// only the leader of a key runs it, and callers joining that in-flight call
// receive the leader's result from GetOrJoin.
func (p *ChatPipeline) produce(ctx context.Context, merged *template.MergedChatConfig, req *model.UniformChatRequest) (*model.UniformChatResponse, error) {
	lease, err := p.admission.Acquire(ctx, merged.ProviderID, merged.ConcurrencyLimit)
	if err != nil {
		return nil, model.NewError(model.ErrCancelled, "waiting for admission: %v", err)
	}
	defer lease.Release()

	nonStreaming := *req
	nonStreaming.Stream = false

	httpReq, err := translate.BuildChatRequest(merged, &nonStreaming)
	if err != nil {
		return nil, model.NewError(model.ErrTranslation, "building chat request: %v", err)
	}

	start := time.Now()
	execRes := p.executor.Execute(ctx, httpReq, p.retry)
	if !execRes.IsOk() {
		p.metrics.ObserveRequest(merged.ProviderID, "error", time.Since(start))
		return nil, execRes.Err()
	}
	if execRes.Value().StatusCode >= 400 {
		p.metrics.ObserveRequest(merged.ProviderID, "http_error", time.Since(start))
		return nil, providerHTTPError(p.logger, merged.ProviderID, merged.Endpoint, merged.ApiKey, execRes.Value())
	}

	resp := translate.ParseChatResponse(merged, execRes.Value())
	p.metrics.ObserveRequest(merged.ProviderID, string(resp.FinishReason), time.Since(start))
	if resp.FinishReason == model.FinishError {
		return nil, model.NewError(model.ErrProviderProtocol, "%s", resp.Message.Content)
	}
	return resp, nil
}

// GetCompletions implements the batch call: every request is
// dispatched through GetCompletion independently (so each gets its own
// cache/single-flight treatment), fanned out with bounded concurrency and
// gathered back in the caller's original order.
func (p *ChatPipeline) GetCompletions(ctx context.Context, providerID string, reqs []*model.UniformChatRequest) []model.Result[*model.UniformChatResponse] {
	results := make([]model.Result[*model.UniformChatResponse], len(reqs))

	limit := 0
	if mergedRes := p.store.GetMergedChat(providerID, providerID); mergedRes.IsOk() {
		limit = mergedRes.Value().ConcurrencyLimit
	}
	if limit <= 0 {
		limit = template.DefaultChatConcurrencyLimit
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, req *model.UniformChatRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = p.GetCompletion(ctx, providerID, req)
		}(i, req)
	}
	wg.Wait()
	return results
}

// GetCompletionStream implements the streaming call. A cache hit replays as
// one coalesced content chunk plus a terminal chunk; exact incremental
// replay of an already-finished stream isn't meaningful, since the caller
// only cares about the content, not its original pacing. A miss makes this call the leader
// for its key (issuing the real streaming call and feeding both the caller's
// channel and an aggregator) unless another goroutine already claimed that
// key, in which case this call becomes a joiner and waits for the leader.
//
// The returned channel is closed when the stream ends; the returned func
// blocks until the final aggregated result (or error) is available. Calling
// it before the channel is drained discards the chunks not yet read.
func (p *ChatPipeline) GetCompletionStream(ctx context.Context, providerID string, req *model.UniformChatRequest) (<-chan model.UniformChatChunk, func() model.Result[*model.UniformChatResponse]) {
	mergedRes := p.store.GetMergedChat(providerID, stickyKeyFor(providerID, req))
	if !mergedRes.IsOk() {
		out := make(chan model.UniformChatChunk)
		close(out)
		errRes := model.Fail[*model.UniformChatResponse](mergedRes.Err())
		return out, func() model.Result[*model.UniformChatResponse] { return errRes }
	}
	merged := mergedRes.Value()
	key := cache.ChatCacheKey(merged, req)

	if cachedResp, ok := p.cache.TryGet(ctx, key); ok {
		p.metrics.ObserveCacheResult(true)
		out := make(chan model.UniformChatChunk, 2)
		out <- model.UniformChatChunk{ContentDelta: cachedResp.Message.Content, ToolCalls: cachedResp.Message.ToolCalls}
		out <- model.UniformChatChunk{FinishReason: cachedResp.FinishReason}
		close(out)
		res := model.Ok(cachedResp)
		return out, func() model.Result[*model.UniformChatResponse] { return res }
	}
	p.metrics.ObserveCacheResult(false)

	out := make(chan model.UniformChatChunk)
	finalCh := make(chan model.Result[*model.UniformChatResponse], 1)
	// final discards whatever chunks the caller has not read, so the
	// producing goroutine can never stay parked on an unread send.
	final := func() model.Result[*model.UniformChatResponse] {
		for range out {
		}
		return <-finalCh
	}

	claim, isLeader := p.claimStream(key)
	if !isLeader {
		go p.joinStream(ctx, claim, out, finalCh)
		return out, final
	}

	go func() {
		defer close(out)
		result, err := p.produceStreaming(ctx, merged, req, out)
		p.releaseStream(key, result, err)
		if err != nil {
			finalCh <- model.Fail[*model.UniformChatResponse](asGatewayErr(err))
			return
		}
		p.cache.Set(ctx, key, result)
		finalCh <- model.Ok(result)
	}()
	return out, final
}

func (p *ChatPipeline) joinStream(ctx context.Context, claim *streamClaim, out chan<- model.UniformChatChunk, finalCh chan<- model.Result[*model.UniformChatResponse]) {
	defer close(out)
	select {
	case <-claim.done:
	case <-ctx.Done():
		finalCh <- model.Fail[*model.UniformChatResponse](model.NewError(model.ErrCancelled, "joining in-flight stream: %v", ctx.Err()))
		return
	}
	if claim.err != nil {
		finalCh <- model.Fail[*model.UniformChatResponse](asGatewayErr(claim.err))
		return
	}
	select {
	case out <- model.UniformChatChunk{ContentDelta: claim.result.Message.Content, ToolCalls: claim.result.Message.ToolCalls}:
	case <-ctx.Done():
		finalCh <- model.Fail[*model.UniformChatResponse](model.NewError(model.ErrCancelled, "joining in-flight stream: %v", ctx.Err()))
		return
	}
	select {
	case out <- model.UniformChatChunk{FinishReason: claim.result.FinishReason}:
	case <-ctx.Done():
	}
	finalCh <- model.Ok(claim.result)
}

func (p *ChatPipeline) claimStream(key string) (*streamClaim, bool) {
	p.streamMu.Lock()
	defer p.streamMu.Unlock()
	if c, ok := p.streaming[key]; ok {
		return c, false
	}
	c := &streamClaim{done: make(chan struct{})}
	p.streaming[key] = c
	return c, true
}

func (p *ChatPipeline) releaseStream(key string, result *model.UniformChatResponse, err error) {
	p.streamMu.Lock()
	c := p.streaming[key]
	delete(p.streaming, key)
	p.streamMu.Unlock()
	c.result, c.err = result, err
	close(c.done)
}

func (p *ChatPipeline) produceStreaming(ctx context.Context, merged *template.MergedChatConfig, req *model.UniformChatRequest, out chan<- model.UniformChatChunk) (*model.UniformChatResponse, error) {
	lease, err := p.admission.Acquire(ctx, merged.ProviderID, merged.ConcurrencyLimit)
	if err != nil {
		return nil, model.NewError(model.ErrCancelled, "waiting for admission: %v", err)
	}
	defer lease.Release()

	streaming := *req
	streaming.Stream = true

	httpReq, err := translate.BuildChatRequest(merged, &streaming)
	if err != nil {
		return nil, model.NewError(model.ErrTranslation, "building chat request: %v", err)
	}

	start := time.Now()
	execRes := p.executor.Execute(ctx, httpReq, p.retry)
	if !execRes.IsOk() {
		p.metrics.ObserveRequest(merged.ProviderID, "error", time.Since(start))
		return nil, execRes.Err()
	}
	if execRes.Value().StatusCode >= 400 {
		p.metrics.ObserveRequest(merged.ProviderID, "http_error", time.Since(start))
		return nil, providerHTTPError(p.logger, merged.ProviderID, merged.Endpoint, merged.ApiKey, execRes.Value())
	}

	var chunks []model.UniformChatChunk
	for chunk := range translate.StreamChatResponse(ctx, merged, execRes.Value().Body, p.logger) {
		chunks = append(chunks, chunk)
		select {
		case out <- chunk:
		case <-ctx.Done():
			return nil, model.NewError(model.ErrCancelled, "stream consumer cancelled: %v", ctx.Err())
		}
	}
	p.metrics.ObserveRequest(merged.ProviderID, "ok", time.Since(start))

	aggregated := translate.AggregateChatChunks(chunks)
	if !model.ValidateChatResponse(aggregated) {
		return nil, model.NewError(model.ErrProviderProtocol, "aggregated stream violates finish-reason/tool-call invariant")
	}
	return aggregated, nil
}

const errBodyPrefixLen = 512

// providerHTTPError converts a non-2xx upstream response into a
// provider-HTTP error value: status preserved, body prefix kept with the
// credential redacted, and the failure logged at Error level with a redacted
// endpoint. The body is consumed here; callers must not read it again.
func providerHTTPError(logger logging.Logger, providerID, endpoint, apiKey string, resp *httpexec.Response) *model.GatewayError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	resp.Body.Close()

	body := redactSecret(string(raw), apiKey)
	if len(body) > errBodyPrefixLen {
		body = body[:errBodyPrefixLen]
	}
	logger.Error("provider %s returned HTTP %d from %s: %s",
		providerID, resp.StatusCode, redactSecret(endpoint, apiKey), body)

	return &model.GatewayError{
		Kind:    model.ErrProviderHTTP,
		Message: "provider " + providerID + " returned HTTP error",
		Status:  resp.StatusCode,
		Body:    body,
	}
}

func redactSecret(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}

func asGatewayErr(err error) *model.GatewayError {
	if ge, ok := err.(*model.GatewayError); ok {
		return ge
	}
	return model.NewError(model.ErrTransport, "%v", err)
}
