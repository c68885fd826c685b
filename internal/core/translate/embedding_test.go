package translate

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
	"github.com/howard-nolan/llmrouter/internal/core/template"
)

func sampleEmbeddingTemplate() *template.EmbeddingTemplate {
	static, _ := jsonnode.ParseJSON([]byte(`{}`))
	return &template.EmbeddingTemplate{
		ProviderName:     "embed-like",
		AuthHeader:       "Authorization",
		AuthScheme:       "Bearer",
		Endpoint:         "https://api.example.com/v1/embeddings?key={apiKey}",
		DefaultModel:     "embed-test",
		StaticParameters: static,
		RequestPaths: template.EmbeddingRequestPaths{
			Model: jsonnode.MustParsePath("model"),
			Input: jsonnode.MustParsePath("input"),
		},
		ResponsePaths: template.EmbeddingResponsePaths{
			DataList:  jsonnode.MustParsePath("data"),
			Embedding: jsonnode.MustParsePath("embedding"),
			Index:     jsonnode.MustParsePath("index"),
		},
	}
}

func sampleMergedEmbedding(t *template.EmbeddingTemplate) *template.MergedEmbeddingConfig {
	return &template.MergedEmbeddingConfig{
		ProviderID:       "embed-like",
		Template:         t,
		ApiKey:           "secret",
		Endpoint:         t.Endpoint,
		Model:            t.DefaultModel,
		MaxBatchSize:     1,
		StaticParameters: t.StaticParameters,
	}
}

func TestBuildEmbeddingRequest(t *testing.T) {
	tpl := sampleEmbeddingTemplate()
	merged := sampleMergedEmbedding(tpl)

	out, err := BuildEmbeddingRequest(merged, []string{"hello", "world"})
	if err != nil {
		t.Fatalf("BuildEmbeddingRequest: %v", err)
	}
	if out.URL != "https://api.example.com/v1/embeddings?key=secret" {
		t.Errorf("URL = %q", out.URL)
	}
	var body map[string]any
	json.Unmarshal(out.Body, &body)
	inputs, ok := body["input"].([]any)
	if !ok || len(inputs) != 2 || inputs[0] != "hello" {
		t.Errorf("input = %v", body["input"])
	}
}

func TestParseEmbeddingResponseSortsByIndexAndNormalizes(t *testing.T) {
	tpl := sampleEmbeddingTemplate()
	tpl.Normalize = true
	merged := sampleMergedEmbedding(tpl)
	merged.NormalizeEmbeddings = true

	raw := `{"data":[{"index":1,"embedding":[3,4]},{"index":0,"embedding":[1,0]}]}`
	resp := newResponse(http.StatusOK, raw)

	result := ParseEmbeddingResponse(merged, resp, 2)
	if !result.IsOk() {
		t.Fatalf("ParseEmbeddingResponse failed: %v", result.Err())
	}
	out := result.Value()
	if len(out.Results) != 2 {
		t.Fatalf("len(Results) = %d", len(out.Results))
	}
	if out.Results[0].Index != 0 || out.Results[1].Index != 1 {
		t.Errorf("results not sorted by index: %+v", out.Results)
	}
	v := out.Results[1].Embedding
	if len(v) != 2 || v[0] < 0.59 || v[0] > 0.61 {
		t.Errorf("embedding not normalized: %v (want ~[0.6, 0.8])", v)
	}
}

func TestParseEmbeddingResponseCountMismatchIsProtocolError(t *testing.T) {
	tpl := sampleEmbeddingTemplate()
	merged := sampleMergedEmbedding(tpl)
	resp := newResponse(http.StatusOK, `{"data":[{"index":0,"embedding":[1,0]}]}`)

	result := ParseEmbeddingResponse(merged, resp, 2)
	if result.IsOk() {
		t.Fatal("expected failure on input/output count mismatch")
	}
	if result.Err().Kind != "provider_protocol_mismatch" {
		t.Errorf("Kind = %v", result.Err().Kind)
	}
}
