package gateway

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/core"
)

type fakeEmbedder struct {
	dim   int
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float64, Usage, error) {
	f.calls++
	if f.err != nil {
		return nil, Usage{}, f.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = make([]float64, f.dim)
	}
	return out, Usage{InputTokens: 10}, nil
}

func newTestGateway(dim int) *Gateway {
	return New(zerolog.Nop(), nil, dim)
}

func TestEmbedSucceedsWithCorrectDimension(t *testing.T) {
	g := newTestGateway(4)
	emb := &fakeEmbedder{dim: 4}
	g.RegisterProvider("p1", 2, map[string]float64{"m1": 0.01}, emb, nil, nil)
	g.SetEmbedChain([]ChainEntry{{Model: "m1", Provider: "p1"}})

	vecs, err := g.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 4)
	assert.Equal(t, 1, emb.calls)
}

func TestEmbedWrongDimensionIsFatal(t *testing.T) {
	g := newTestGateway(4)
	emb := &fakeEmbedder{dim: 8}
	g.RegisterProvider("p1", 1, nil, emb, nil, nil)
	g.SetEmbedChain([]ChainEntry{{Model: "m1", Provider: "p1"}})

	_, err := g.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	var fatal *core.FatalError
	assert.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, emb.calls, "fatal errors must not retry")
}

func TestEmbedFallsThroughChainOnTransientError(t *testing.T) {
	g := newTestGateway(4)
	failing := &fakeEmbedder{dim: 4, err: &core.TransientExternalError{Component: "p1", Retryable: true, Status: 503}}
	healthy := &fakeEmbedder{dim: 4}
	g.RegisterProvider("p1", 1, nil, failing, nil, nil)
	g.RegisterProvider("p2", 1, nil, healthy, nil, nil)
	g.SetEmbedChain([]ChainEntry{{Model: "m1", Provider: "p1"}, {Model: "m2", Provider: "p2"}})

	// reduce retry attempts so the test doesn't sleep through backoff
	g.retry = RetryPolicy{MaxAttempts: 1}

	vecs, err := g.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, 1, healthy.calls)
}

func TestEmbedNoChainConfiguredIsNotConfigured(t *testing.T) {
	g := newTestGateway(4)
	_, err := g.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	var nc *core.ModelNotConfiguredError
	assert.ErrorAs(t, err, &nc)
}

type fakeCompleter struct {
	text string
	err  error
}

func (f *fakeCompleter) Complete(ctx context.Context, model string, messages []Message, params CompleteParams) (string, Usage, error) {
	if f.err != nil {
		return "", Usage{}, f.err
	}
	return f.text, Usage{InputTokens: 5, OutputTokens: 5}, nil
}

func TestCompleteUsesNamedChain(t *testing.T) {
	g := newTestGateway(4)
	g.RegisterProvider("light-provider", 1, map[string]float64{"light-model": 0.001}, nil, nil, &fakeCompleter{text: "hello"})
	g.SetCompleteChain("light", []ChainEntry{{Model: "light-model", Provider: "light-provider"}})

	out, err := g.Complete(context.Background(), "light", []Message{{Role: "user", Content: "hi"}}, CompleteParams{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	records := g.CostRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "light-provider", records[0].Provider)
	assert.InDelta(t, 0.00001, records[0].CostUSD, 1e-9)
}
