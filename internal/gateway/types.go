// Package gateway implements the Model Gateway (C1): one call surface for
// embedding, rerank, and completion across multiple providers, with
// retries, an ordered fallback chain per operation, per-provider
// concurrency limits, and cost accounting. Grounded on the teacher's
// internal/llm/anthropic, internal/llm/openai, and internal/llm/google
// clients, generalized behind three small operation interfaces the way
// the Design Notes prescribe (swap providers without rewriting call
// sites).
package gateway

import (
	"context"
	"time"
)

// Message is a single chat turn passed to a Completer.
type Message struct {
	Role    string // system | user | assistant
	Content string
}

// CompleteParams bounds a completion call.
type CompleteParams struct {
	MaxTokens   int
	Temperature float64
}

// RerankResult is one scored document from a Reranker.
type RerankResult struct {
	Index int
	Score float64
}

// Embedder embeds a batch of texts against one model.
type Embedder interface {
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float64, Usage, error)
}

// Reranker scores docs against a query for one model.
type Reranker interface {
	Rerank(ctx context.Context, model, query string, docs []string, topK int) ([]RerankResult, Usage, error)
}

// Completer produces a text completion for one model.
type Completer interface {
	Complete(ctx context.Context, model string, messages []Message, params CompleteParams) (string, Usage, error)
}

// Usage is provider-reported token accounting for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CostRecord is emitted for every successful provider call.
type CostRecord struct {
	Provider     string
	Model        string
	Operation    string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMs    int64
	Timestamp    time.Time
}
