package gateway

import (
	"context"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider is a Completer backed by the Anthropic SDK. Anthropic
// has no embedding or rerank endpoint, so it implements only Completer —
// the gateway's provider interfaces are adopted individually, per
// provider, exactly as the Design Notes describe.
type AnthropicProvider struct {
	sdk   anthropic.Client
	model string
}

// NewAnthropicProvider builds a Completer wrapping the Anthropic SDK,
// following the same option.WithAPIKey/WithHTTPClient/WithBaseURL
// construction the teacher's internal/llm/anthropic client uses.
func NewAnthropicProvider(apiKey, baseURL, defaultModel string, httpClient *http.Client) *AnthropicProvider {
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
	model := strings.TrimSpace(defaultModel)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicProvider{sdk: anthropic.NewClient(opts...), model: model}
}

func (p *AnthropicProvider) Complete(ctx context.Context, model string, messages []Message, params CompleteParams) (string, Usage, error) {
	m := strings.TrimSpace(model)
	if m == "" {
		m = p.model
	}
	var system []anthropic.TextBlockParam
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	maxTokens := int64(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	resp, err := p.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(m),
		Messages:  converted,
		System:    system,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", Usage{}, classifyHTTPErr("anthropic", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	usage := Usage{
		InputTokens:  int(resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	return sb.String(), usage, nil
}
