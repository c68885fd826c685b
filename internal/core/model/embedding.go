package model

// UniformEmbeddingRequest is an ordered batch of strings to embed.
type UniformEmbeddingRequest struct {
	Inputs []string
	Model  string
}

// EmbeddingResult is one embedded input. Index matches the input's position
// in the original UniformEmbeddingRequest.Inputs, regardless of what order
// the provider returned results in or which were served from cache.
type EmbeddingResult struct {
	Index     int
	Embedding []float32
}

// UniformEmbeddingResponse preserves request order: Results[i].Index == i for
// all i, and len(Results) == len(request.Inputs).
type UniformEmbeddingResponse struct {
	Results []EmbeddingResult
}
