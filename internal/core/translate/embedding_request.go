package translate

import (
	"net/http"
	"strings"

	"github.com/howard-nolan/llmrouter/internal/core/httpexec"
	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
	"github.com/howard-nolan/llmrouter/internal/core/template"
)

// BuildEmbeddingRequest translates a batch of inputs (already split to
// MaxBatchSize by the embedding pipeline) into an HTTP request per the
// embedding template's path descriptors.
func BuildEmbeddingRequest(merged *template.MergedEmbeddingConfig, inputs []string) (*httpexec.Request, error) {
	t := merged.Template

	body := merged.StaticParameters.Clone()

	if err := setIfPathPresent(&body, t.RequestPaths.Model, jsonnode.String(merged.Model)); err != nil {
		return nil, translationErr("model", err)
	}

	inputNode := jsonnode.Array()
	for _, in := range inputs {
		inputNode.AppendItem(jsonnode.String(in))
	}
	if err := setIfPathPresent(&body, t.RequestPaths.Input, inputNode); err != nil {
		return nil, translationErr("input", err)
	}

	url := strings.ReplaceAll(merged.Endpoint, "{apiKey}", merged.ApiKey)
	headers := composeHeaders(t.AuthHeader, t.AuthScheme, t.ExtraHeaders, merged.User.CustomHeaders, merged.ApiKey)

	payload, err := body.ToJSON()
	if err != nil {
		return nil, translationErr("serialize", err)
	}

	return &httpexec.Request{
		Method:   http.MethodPost,
		URL:      url,
		Headers:  headers,
		Body:     payload,
		Provider: merged.ProviderID,
	}, nil
}
