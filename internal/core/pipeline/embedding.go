package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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

// EmbeddingPipeline is the embedding analogue of ChatPipeline. Embeddings
// are cached per-input, independent of which batch they were submitted in,
// so a batch call checks the cache input-by-input before ever building an
// upstream request, then splits the remaining misses into
// MaxBatchSize-sized upstream calls.
type EmbeddingPipeline struct {
	store     *template.Store
	executor  *httpexec.Executor
	admission *admission.Controller
	cache     *cache.Store[[]float32]
	retry     httpexec.RetryPolicy
	logger    logging.Logger
	metrics   metrics.Sink
}

// NewEmbeddingPipeline wires the pipeline's dependencies.
func NewEmbeddingPipeline(store *template.Store, executor *httpexec.Executor, adm *admission.Controller, c *cache.Store[[]float32], retry httpexec.RetryPolicy, logger logging.Logger, sink metrics.Sink) *EmbeddingPipeline {
	if logger == nil {
		logger = logging.Nop{}
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &EmbeddingPipeline{
		store:     store,
		executor:  executor,
		admission: adm,
		cache:     c,
		retry:     retry,
		logger:    logger,
		metrics:   sink,
	}
}

// GetEmbeddings runs the batch embedding call: per-input cache lookup, then
// residual misses dispatched in MaxBatchSize chunks, with results merged
// back into the caller's original input order.
func (p *EmbeddingPipeline) GetEmbeddings(ctx context.Context, providerID string, req *model.UniformEmbeddingRequest) model.Result[*model.UniformEmbeddingResponse] {
	mergedRes := p.store.GetMergedEmbedding(providerID, embeddingStickyKey(providerID, req.Inputs))
	if !mergedRes.IsOk() {
		return model.Fail[*model.UniformEmbeddingResponse](mergedRes.Err())
	}
	merged := mergedRes.Value()

	results := make([]model.EmbeddingResult, len(req.Inputs))
	var missIdx []int
	for i, in := range req.Inputs {
		if vec, ok := p.cache.TryGet(ctx, cache.EmbeddingCacheKey(merged, in)); ok {
			p.metrics.ObserveCacheResult(true)
			results[i] = model.EmbeddingResult{Index: i, Embedding: vec}
		} else {
			p.metrics.ObserveCacheResult(false)
			missIdx = append(missIdx, i)
		}
	}

	batchSize := merged.MaxBatchSize
	if batchSize <= 0 {
		batchSize = template.DefaultEmbeddingMaxBatchSize
	}

	for start := 0; start < len(missIdx); start += batchSize {
		end := min(start+batchSize, len(missIdx))
		chunkIdx := missIdx[start:end]

		inputs := make([]string, len(chunkIdx))
		for j, idx := range chunkIdx {
			inputs[j] = req.Inputs[idx]
		}

		fetchRes := p.fetchBatch(ctx, merged, inputs)
		if !fetchRes.IsOk() {
			return model.Fail[*model.UniformEmbeddingResponse](fetchRes.Err())
		}

		for _, er := range fetchRes.Value().Results {
			origIdx := chunkIdx[er.Index]
			results[origIdx] = model.EmbeddingResult{Index: origIdx, Embedding: er.Embedding}
			p.cache.Set(ctx, cache.EmbeddingCacheKey(merged, req.Inputs[origIdx]), er.Embedding)
		}
	}

	return model.Ok(&model.UniformEmbeddingResponse{Results: results})
}

// embeddingStickyKey is the embedding analogue of stickyKeyFor: embedding
// requests carry no conversation id, so credential selection always keys on
// a digest of the batch, spreading distinct batches across a credential
// pool while identical batches stay on the same entry.
func embeddingStickyKey(providerID string, inputs []string) string {
	h := sha256.New()
	h.Write([]byte(providerID))
	h.Write([]byte{0})
	for _, in := range inputs {
		h.Write([]byte(in))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (p *EmbeddingPipeline) fetchBatch(ctx context.Context, merged *template.MergedEmbeddingConfig, inputs []string) model.Result[*model.UniformEmbeddingResponse] {
	lease, err := p.admission.Acquire(ctx, merged.ProviderID, merged.ConcurrencyLimit)
	if err != nil {
		return model.Fail[*model.UniformEmbeddingResponse](model.NewError(model.ErrCancelled, "waiting for admission: %v", err))
	}
	defer lease.Release()

	httpReq, err := translate.BuildEmbeddingRequest(merged, inputs)
	if err != nil {
		return model.Fail[*model.UniformEmbeddingResponse](model.NewError(model.ErrTranslation, "building embedding request: %v", err))
	}

	start := time.Now()
	execRes := p.executor.Execute(ctx, httpReq, p.retry)
	if !execRes.IsOk() {
		p.metrics.ObserveRequest(merged.ProviderID, "error", time.Since(start))
		return model.Fail[*model.UniformEmbeddingResponse](execRes.Err())
	}
	if execRes.Value().StatusCode >= 400 {
		p.metrics.ObserveRequest(merged.ProviderID, "http_error", time.Since(start))
		return model.Fail[*model.UniformEmbeddingResponse](providerHTTPError(p.logger, merged.ProviderID, merged.Endpoint, merged.ApiKey, execRes.Value()))
	}

	out := translate.ParseEmbeddingResponse(merged, execRes.Value(), len(inputs))
	outcome := "ok"
	if !out.IsOk() {
		outcome = "error"
	}
	p.metrics.ObserveRequest(merged.ProviderID, outcome, time.Since(start))
	return out
}
