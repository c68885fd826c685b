package translate

import (
	"io"
	"sort"

	"github.com/chewxy/math32"
	"github.com/viterin/vek/vek32"

	"github.com/howard-nolan/llmrouter/internal/core/httpexec"
	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
	"github.com/howard-nolan/llmrouter/internal/core/model"
	"github.com/howard-nolan/llmrouter/internal/core/template"
)

// ParseEmbeddingResponse implements the embedding half of the response
// translator: read the array of embeddings at the template's data-list
// path, pulling each item's vector
// and index at paths.embedding/paths.index, then sort by index so batch order
// matches the caller's original input order regardless of what order the
// provider served them in. originalCount is the number of inputs sent in this
// batch; a provider returning a different count is a protocol mismatch, not a
// translation bug, so it's reported as ErrProviderProtocol rather than a
// zero-length silent result.
func ParseEmbeddingResponse(merged *template.MergedEmbeddingConfig, resp *httpexec.Response, originalCount int) model.Result[*model.UniformEmbeddingResponse] {
	t := merged.Template

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Fail[*model.UniformEmbeddingResponse](model.NewError(model.ErrTransport, "reading embedding response body: %v", err))
	}

	root, err := jsonnode.ParseJSON(raw)
	if err != nil {
		return model.Fail[*model.UniformEmbeddingResponse](model.NewError(model.ErrProviderProtocol, "malformed embedding response body: %v", err))
	}

	if resp.StatusCode >= 400 {
		gerr := model.NewError(model.ErrProviderHTTP, "%s", providerErrorMessage(root, resp.StatusCode))
		gerr.Status = resp.StatusCode
		return model.Fail[*model.UniformEmbeddingResponse](gerr)
	}

	dataList, ok := jsonnode.Get(root, t.ResponsePaths.DataList)
	if !ok || dataList.Kind() != jsonnode.KindArray {
		return model.Fail[*model.UniformEmbeddingResponse](model.NewError(model.ErrProviderProtocol, "embedding response missing data list at configured path"))
	}

	items := dataList.Items()
	if len(items) != originalCount {
		return model.Fail[*model.UniformEmbeddingResponse](model.NewError(
			model.ErrProviderProtocol,
			"embedding response returned %d vectors for %d inputs",
			len(items), originalCount,
		))
	}

	results := make([]model.EmbeddingResult, 0, len(items))
	for i, item := range items {
		vec := extractEmbeddingVector(item, t.ResponsePaths.Embedding)
		if merged.NormalizeEmbeddings {
			vec = normalizeEmbedding(vec)
		}
		idx := i
		if !t.ResponsePaths.Index.IsRoot() {
			if f, ok := jsonnode.Get(item, t.ResponsePaths.Index); ok {
				if n, ok := f.NumberValue(); ok {
					idx = int(n)
				}
			}
		}
		results = append(results, model.EmbeddingResult{Index: idx, Embedding: vec})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	return model.Ok(&model.UniformEmbeddingResponse{Results: results})
}

func extractEmbeddingVector(item *jsonnode.Node, path jsonnode.Path) []float32 {
	node, ok := jsonnode.Get(item, path)
	if !ok || node.Kind() != jsonnode.KindArray {
		return nil
	}
	values := node.Items()
	vec := make([]float32, len(values))
	for i, v := range values {
		if f, ok := v.NumberValue(); ok {
			vec[i] = float32(f)
		}
	}
	return vec
}

// normalizeEmbedding L2-normalizes a vector: some providers return
// unnormalized vectors, and callers that compute cosine similarity via a
// plain dot product need unit vectors. vek32.Dot vectorizes the sum-of-squares
// reduction; math32.Sqrt avoids a float64 round trip over what's already
// float32 data.
func normalizeEmbedding(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	sumSq := vek32.Dot(vec, vec)
	if sumSq == 0 {
		return vec
	}
	norm := math32.Sqrt(sumSq)
	return vek32.DivNumber(vec, norm)
}
