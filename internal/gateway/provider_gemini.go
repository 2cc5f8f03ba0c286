package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"
)

// GeminiProvider implements Embedder and Completer against Gemini,
// constructed the way the teacher's internal/llm/google client builds
// genai.NewClient — the gateway's third completion/embedding hop, giving
// the fallback chain a real third provider.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
}

func NewGeminiProvider(ctx context.Context, apiKey, baseURL, defaultModel string, httpClient *http.Client, timeout time.Duration) (*GeminiProvider, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	httpOpts := genai.HTTPOptions{}
	if timeout > 0 {
		httpOpts.Timeout = &timeout
	}
	if b := strings.TrimSpace(baseURL); b != "" {
		httpOpts.BaseURL = strings.TrimSuffix(b, "/") + "/"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      strings.TrimSpace(apiKey),
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, classifyHTTPErr("gemini", err)
	}
	model := strings.TrimSpace(defaultModel)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiProvider{client: client, defaultModel: model}, nil
}

func (p *GeminiProvider) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float64, Usage, error) {
	m := strings.TrimSpace(model)
	if m == "" {
		m = p.defaultModel
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := p.client.Models.EmbedContent(ctx, m, contents, nil)
	if err != nil {
		return nil, Usage{}, classifyHTTPErr("gemini", err)
	}
	out := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vec := make([]float64, len(e.Values))
		for j, v := range e.Values {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, Usage{}, nil
}

func (p *GeminiProvider) Complete(ctx context.Context, model string, messages []Message, params CompleteParams) (string, Usage, error) {
	m := strings.TrimSpace(model)
	if m == "" {
		m = p.defaultModel
	}
	var sb strings.Builder
	var system string
	for _, msg := range messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	var cfg *genai.GenerateContentConfig
	if system != "" {
		cfg = &genai.GenerateContentConfig{SystemInstruction: genai.NewContentFromText(system, genai.RoleUser)}
	}
	resp, err := p.client.Models.GenerateContent(ctx, m, genai.Text(sb.String()), cfg)
	if err != nil {
		return "", Usage{}, classifyHTTPErr("gemini", err)
	}
	text := resp.Text()
	usage := Usage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return text, usage, nil
}
