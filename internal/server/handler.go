package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/howard-nolan/llmrouter/internal/core/model"
	"github.com/howard-nolan/llmrouter/internal/stream"
)

// chatCompletionRequest is the OpenAI-compatible wire shape the host accepts
// on POST /v1/chat/completions, translated to model.UniformChatRequest
// before it reaches the gateway facade.
type chatCompletionRequest struct {
	Model           string          `json:"model"`
	Messages        []wireMessage   `json:"messages"`
	Tools           []wireTool      `json:"tools,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	TypicalP        *float64        `json:"typical_p,omitempty"`
	MaxTokens       *int            `json:"max_tokens,omitempty"`
	ForceJSONOutput bool            `json:"force_json_output,omitempty"`
	ConversationID  string          `json:"conversation_id,omitempty"`
	ResponseFormat  json.RawMessage `json:"response_format,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatCompletionResponse struct {
	ID           string       `json:"id"`
	Object       string       `json:"object"`
	Model        string       `json:"model"`
	Choices      []wireChoice `json:"choices"`
	FinishReason string       `json:"finish_reason"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Model string          `json:"model"`
	Data  []embeddingDatum `json:"data"`
}

type embeddingDatum struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

func toUniformRequest(req chatCompletionRequest) *model.UniformChatRequest {
	messages := make([]model.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, model.ChatMessage{
			Role:       model.Role(m.Role),
			Content:    m.Content,
			ToolCalls:  toUniformToolCalls(m.ToolCalls),
			ToolCallID: m.ToolCallID,
		})
	}
	tools := make([]model.ToolDefinition, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, model.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return &model.UniformChatRequest{
		Messages:        messages,
		Tools:           tools,
		ForceJSONOutput: req.ForceJSONOutput || len(req.ResponseFormat) > 0,
		Stream:          req.Stream,
		Model:           req.Model,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		TypicalP:        req.TypicalP,
		MaxTokens:       req.MaxTokens,
		ConversationID:  req.ConversationID,
	}
}

func toUniformToolCalls(calls []wireToolCall) []model.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]model.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, model.ToolCall{
			ID:           c.ID,
			Type:         c.Type,
			FunctionName: c.Function.Name,
			Arguments:    c.Function.Arguments,
		})
	}
	return out
}

func fromUniformResponse(modelName string, resp *model.UniformChatResponse) chatCompletionResponse {
	// The gateway's uniform response carries no provider-side id, so mint
	// one here the way OpenAI-compatible clients expect.
	return chatCompletionResponse{
		ID:           "chatcmpl-" + uuid.NewString(),
		Object:       "chat.completion",
		Model:        modelName,
		FinishReason: string(resp.FinishReason),
		Choices: []wireChoice{
			{
				Index:        0,
				FinishReason: string(resp.FinishReason),
				Message: wireMessage{
					Role:      string(resp.Message.Role),
					Content:   resp.Message.Content,
					ToolCalls: fromUniformToolCalls(resp.Message.ToolCalls),
				},
			},
		},
	}
}

func fromUniformToolCalls(calls []model.ToolCall) []wireToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]wireToolCall, 0, len(calls))
	for _, c := range calls {
		wc := wireToolCall{ID: c.ID, Type: c.Type}
		wc.Function.Name = c.FunctionName
		wc.Function.Arguments = c.Arguments
		out = append(out, wc)
	}
	return out
}

// handleHealth responds with a simple JSON liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleChatCompletions handles POST /v1/chat/completions, dispatching to
// the gateway's single-call or streaming facade operation depending on the
// request's stream flag.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	uniform := toUniformRequest(req)

	if uniform.Stream {
		chunks, final := s.gw.GetCompletionStream(r.Context(), uniform)
		if err := stream.Write(w, chunks); err != nil {
			s.logger.Warning("stream write error: %v", err)
		}
		if res := final(); !res.IsOk() {
			s.logger.Warning("stream finished with error: %v", res.Err())
		}
		return
	}

	res := s.gw.GetCompletion(r.Context(), uniform)
	if !res.IsOk() {
		writeGatewayError(w, res.Err())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fromUniformResponse(req.Model, res.Value()))
}

// handleChatCompletionsBatch handles POST /v1/chat/completions/batch,
// dispatching every request concurrently through gateway.GetCompletions.
func (s *Server) handleChatCompletionsBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	uniform := make([]*model.UniformChatRequest, 0, len(reqs))
	for _, req := range reqs {
		uniform = append(uniform, toUniformRequest(req))
	}

	results := s.gw.GetCompletions(r.Context(), uniform)

	out := make([]any, 0, len(results))
	for i, res := range results {
		if !res.IsOk() {
			out = append(out, map[string]string{"error": res.Err().Message})
			continue
		}
		out = append(out, fromUniformResponse(reqs[i].Model, res.Value()))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleEmbeddings handles POST /v1/embeddings.
func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res := s.gw.GetEmbeddings(r.Context(), &model.UniformEmbeddingRequest{
		Inputs: req.Input,
		Model:  req.Model,
	})
	if !res.IsOk() {
		writeGatewayError(w, res.Err())
		return
	}

	data := make([]embeddingDatum, 0, len(res.Value().Results))
	for _, result := range res.Value().Results {
		data = append(data, embeddingDatum{Index: result.Index, Embedding: result.Embedding})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(embeddingsResponse{Model: req.Model, Data: data})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeGatewayError maps a model.GatewayError's Kind onto an HTTP status,
// splitting client errors from upstream errors.
func writeGatewayError(w http.ResponseWriter, err *model.GatewayError) {
	status := http.StatusBadGateway
	switch err.Kind {
	case model.ErrNotConfigured, model.ErrTemplateNotFound, model.ErrInvalidTemplate:
		status = http.StatusServiceUnavailable
	case model.ErrTranslation:
		status = http.StatusBadRequest
	case model.ErrCancelled:
		status = http.StatusRequestTimeout
	case model.ErrTimeout:
		status = http.StatusGatewayTimeout
	case model.ErrProviderHTTP:
		if err.Status != 0 {
			status = err.Status
		}
	}
	writeJSONError(w, status, err.Error())
}
