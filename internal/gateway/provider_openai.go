package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"mnemo/internal/core"
)

// OpenAIProvider implements Embedder and Completer against the OpenAI
// SDK, mirroring the client construction in the teacher's
// internal/llm/openai package (option.WithAPIKey / WithHTTPClient /
// WithBaseURL, a thin struct wrapping the generated sdk.Client).
type OpenAIProvider struct {
	sdk          openai.Client
	defaultModel string
}

func NewOpenAIProvider(apiKey, baseURL, defaultModel string, httpClient *http.Client) *OpenAIProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
	}
	if b := strings.TrimSpace(baseURL); b != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(b, "/")))
	}
	return &OpenAIProvider{sdk: openai.NewClient(opts...), defaultModel: strings.TrimSpace(defaultModel)}
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float64, Usage, error) {
	m := strings.TrimSpace(model)
	if m == "" {
		m = p.defaultModel
	}
	resp, err := p.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(m),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, Usage{}, classifyHTTPErr("openai", err)
	}
	out := make([][]float64, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, Usage{InputTokens: int(resp.Usage.PromptTokens)}, nil
}

// Rerank has no first-class OpenAI endpoint, and approximating it with
// small classification-style completions would overcomplicate the
// gateway's retry/fallback contract, so OpenAIProvider intentionally
// implements only Embedder and Completer — rerank is served by whichever
// provider's chain entry names it (commonly a dedicated rerank model
// behind the same base URL, configured with its own provider entry).
func (p *OpenAIProvider) Complete(ctx context.Context, model string, messages []Message, params CompleteParams) (string, Usage, error) {
	m := strings.TrimSpace(model)
	if m == "" {
		m = p.defaultModel
	}
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			converted = append(converted, openai.SystemMessage(msg.Content))
		case "assistant":
			converted = append(converted, openai.AssistantMessage(msg.Content))
		default:
			converted = append(converted, openai.UserMessage(msg.Content))
		}
	}
	resp, err := p.sdk.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    m,
		Messages: converted,
	})
	if err != nil {
		return "", Usage{}, classifyHTTPErr("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, classifyHTTPErr("openai", errEmptyCompletion)
	}
	usage := Usage{InputTokens: int(resp.Usage.PromptTokens), OutputTokens: int(resp.Usage.CompletionTokens)}
	return resp.Choices[0].Message.Content, usage, nil
}

// OpenAIRerankProvider implements Reranker against a dedicated
// OpenAI-compatible rerank endpoint (self-hosted cross-encoder servers
// expose POST /rerank this way; there is no first-class operation for it
// in the official SDK, so this provider speaks the wire format directly
// over net/http the way the teacher's internal/anthropic package talks
// to endpoints the generated SDK doesn't cover).
type OpenAIRerankProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewOpenAIRerankProvider(apiKey, baseURL string, httpClient *http.Client) *OpenAIRerankProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIRerankProvider{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (p *OpenAIRerankProvider) Rerank(ctx context.Context, model, query string, docs []string, topK int) ([]RerankResult, Usage, error) {
	body, err := json.Marshal(rerankRequest{Model: model, Query: query, Documents: docs, TopN: topK})
	if err != nil {
		return nil, Usage{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, Usage{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, Usage{}, classifyHTTPErr("openai-rerank", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, Usage{}, &core.TransientExternalError{
			Component: "openai-rerank",
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooEarly,
			Status:    resp.StatusCode,
			Cause:     errRerankHTTPStatus,
		}
	}
	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, Usage{}, err
	}
	out := make([]RerankResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		out = append(out, RerankResult{Index: r.Index, Score: r.RelevanceScore})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, Usage{}, nil
}

var errEmptyCompletion = &emptyCompletionError{}

type emptyCompletionError struct{}

func (e *emptyCompletionError) Error() string { return "openai: completion returned no choices" }

var errRerankHTTPStatus = &rerankHTTPStatusError{}

type rerankHTTPStatusError struct{}

func (e *rerankHTTPStatusError) Error() string { return "openai-rerank: non-2xx response" }
