package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/llmrouter/internal/core/admission"
	"github.com/howard-nolan/llmrouter/internal/core/cache"
	"github.com/howard-nolan/llmrouter/internal/core/httpexec"
	"github.com/howard-nolan/llmrouter/internal/core/model"
	"github.com/howard-nolan/llmrouter/internal/core/template"
)

const embeddingTemplateTmpl = `{
  "provider_name": "acme",
  "auth_header": "Authorization",
  "auth_scheme": "Bearer",
  "embedding_api": {
    "endpoint": "%s/v1/embeddings?key={apiKey}",
    "default_model": "acme-embed",
    "max_batch_size": 2,
    "request_paths": {
      "model": "model",
      "input": "input"
    },
    "response_paths": {
      "data_list": "data",
      "embedding": "embedding",
      "index": "index"
    }
  }
}`

const embeddingUserConfigJSON = `{"api_key": "sk-test"}`

func newTestEmbeddingPipeline(t *testing.T) (*EmbeddingPipeline, *int32) {
	t.Helper()
	var calls int32
	var batchSizes []int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var body struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		batchSizes = append(batchSizes, len(body.Input))

		data := make([]map[string]any, len(body.Input))
		for i := range body.Input {
			data[i] = map[string]any{"embedding": []float32{float32(i), 1, 0}, "index": i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	tmpl := fmt.Sprintf(embeddingTemplateTmpl, srv.URL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "provider_template_embedding_acme.json"), []byte(tmpl), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "embedding_config_acme.json"), []byte(embeddingUserConfigJSON), 0644))
	store, err := template.New(dir, nil, nil)
	require.NoError(t, err)

	exec := httpexec.NewExecutor()
	adm := admission.New(nil)
	c := cache.New[[]float32](time.Minute)

	return NewEmbeddingPipeline(store, exec, adm, c, httpexec.RetryPolicy{MaxRetries: 0}, nil, nil), &calls
}

func TestGetEmbeddingsChunksByMaxBatchSize(t *testing.T) {
	p, calls := newTestEmbeddingPipeline(t)
	ctx := context.Background()

	res := p.GetEmbeddings(ctx, "acme", &model.UniformEmbeddingRequest{Inputs: []string{"a", "b", "c"}})
	require.True(t, res.IsOk())
	require.Len(t, res.Value().Results, 3)
	// max_batch_size is 2, so 3 inputs must split into two upstream calls.
	require.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestGetEmbeddingsSkipsCachedInputs(t *testing.T) {
	p, calls := newTestEmbeddingPipeline(t)
	ctx := context.Background()

	first := p.GetEmbeddings(ctx, "acme", &model.UniformEmbeddingRequest{Inputs: []string{"a", "b"}})
	require.True(t, first.IsOk())
	require.Equal(t, int32(1), atomic.LoadInt32(calls))

	second := p.GetEmbeddings(ctx, "acme", &model.UniformEmbeddingRequest{Inputs: []string{"a", "b", "c"}})
	require.True(t, second.IsOk())
	require.Len(t, second.Value().Results, 3)
	// "a" and "b" are cached from the first call; only "c" should trigger a
	// new upstream call.
	require.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestGetEmbeddingsPreservesInputOrder(t *testing.T) {
	p, _ := newTestEmbeddingPipeline(t)
	ctx := context.Background()

	res := p.GetEmbeddings(ctx, "acme", &model.UniformEmbeddingRequest{Inputs: []string{"x", "y", "z"}})
	require.True(t, res.IsOk())
	for i, r := range res.Value().Results {
		require.Equal(t, i, r.Index)
	}
}
