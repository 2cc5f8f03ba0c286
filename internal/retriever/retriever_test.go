package retriever

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/core"
	"mnemo/internal/gateway"
	"mnemo/internal/store"
	"mnemo/internal/vectorindex"
)

type countingEmbedder struct {
	calls int32
	dim   int
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float64, gateway.Usage, error) {
	atomic.AddInt32(&e.calls, 1)
	out := make([][]float64, len(texts))
	for i := range texts {
		v := make([]float64, e.dim)
		v[0] = 1
		out[i] = v
	}
	return out, gateway.Usage{}, nil
}

func newTestRetriever(t *testing.T, emb *countingEmbedder) (*Retriever, *store.MemoryStore, *vectorindex.MemoryIndex) {
	t.Helper()
	gw := gateway.New(zerolog.Nop(), nil, emb.dim)
	gw.RegisterProvider("p1", 2, nil, emb, nil, nil)
	gw.SetEmbedChain([]gateway.ChainEntry{{Model: "m1", Provider: "p1"}})

	st := store.NewMemoryStore()
	idx := vectorindex.NewMemoryIndex(emb.dim)
	r := New(gw, st, idx, nil, false, time.Minute, zerolog.Nop())
	return r, st, idx
}

func seedUnit(t *testing.T, st *store.MemoryStore, idx *vectorindex.MemoryIndex, id, title string, vec []float32) {
	t.Helper()
	ctx := context.Background()
	unit := core.MemoryUnit{ID: id, ProjectID: "p1", IsActive: true, Title: title, Summary: title, CreatedAt: time.Now().UTC(), RelevanceScore: 0.5}
	_, err := st.StoreConversation(ctx, core.Conversation{ID: "conv-" + id}, []core.MemoryUnit{unit})
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, id, vec, vectorindex.Payload{MemoryUnitID: id, ProjectID: "p1"}))
}

func TestRetrieveMergesHybridCandidates(t *testing.T) {
	emb := &countingEmbedder{dim: 3}
	r, st, idx := newTestRetriever(t, emb)
	seedUnit(t, st, idx, "u1", "python singleton pattern", []float32{1, 0, 0})

	results, _, _, err := r.Retrieve(context.Background(), core.SearchQuery{Text: "python singleton", ProjectID: "p1", Limit: 5, MinScore: 0, QueryType: "hybrid"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.MatchHybrid, results[0].MatchType)
}

func TestRetrieveLimitZeroReturnsEmptyNoProviderCalls(t *testing.T) {
	emb := &countingEmbedder{dim: 3}
	r, st, idx := newTestRetriever(t, emb)
	seedUnit(t, st, idx, "u1", "python singleton pattern", []float32{1, 0, 0})

	results, _, _, err := r.Retrieve(context.Background(), core.SearchQuery{Text: "python singleton", ProjectID: "p1", Limit: 0})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(0), atomic.LoadInt32(&emb.calls))
}

func TestRetrieveMinScoreFiltersOutLowRelevance(t *testing.T) {
	emb := &countingEmbedder{dim: 3}
	r, st, idx := newTestRetriever(t, emb)
	seedUnit(t, st, idx, "u1", "unrelated topic", []float32{0, 1, 0})

	results, _, _, err := r.Retrieve(context.Background(), core.SearchQuery{Text: "python singleton", ProjectID: "p1", Limit: 5, MinScore: 0.9, QueryType: "semantic"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveRerankDegradesWhenNoRerankConfigured(t *testing.T) {
	emb := &countingEmbedder{dim: 3}
	r, st, idx := newTestRetriever(t, emb)
	seedUnit(t, st, idx, "u1", "python singleton pattern", []float32{1, 0, 0})
	seedUnit(t, st, idx, "u2", "python metaclass pattern", []float32{0.9, 0.1, 0})

	_, _, warnings, err := r.Retrieve(context.Background(), core.SearchQuery{Text: "python singleton", ProjectID: "p1", Limit: 5, QueryType: "semantic"})
	require.NoError(t, err)
	assert.Contains(t, warnings, "rerank_degraded")
}

func TestRetrieveSingleFlightDeduplicatesEmbedCalls(t *testing.T) {
	emb := &countingEmbedder{dim: 3}
	r, st, idx := newTestRetriever(t, emb)
	seedUnit(t, st, idx, "u1", "python singleton pattern", []float32{1, 0, 0})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _, err := r.Retrieve(context.Background(), core.SearchQuery{Text: "python singleton", ProjectID: "p1", Limit: 5, QueryType: "semantic"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&emb.calls))
}

func TestRetrieveSemanticLegFailureIsFatalForSemanticQueryType(t *testing.T) {
	gw := gateway.New(zerolog.Nop(), nil, 3)
	st := store.NewMemoryStore()
	idx := vectorindex.NewMemoryIndex(3)
	r := New(gw, st, idx, nil, false, time.Minute, zerolog.Nop())

	_, _, _, err := r.Retrieve(context.Background(), core.SearchQuery{Text: "anything", ProjectID: "p1", Limit: 5, QueryType: "semantic"})
	assert.Error(t, err)
}

func TestRetrieveFallsThroughToKeywordOnlyForHybrid(t *testing.T) {
	gw := gateway.New(zerolog.Nop(), nil, 3)
	st := store.NewMemoryStore()
	idx := vectorindex.NewMemoryIndex(3)
	r := New(gw, st, idx, nil, false, time.Minute, zerolog.Nop())
	seedUnit(t, st, idx, "u1", "python singleton pattern", []float32{1, 0, 0})

	results, _, warnings, err := r.Retrieve(context.Background(), core.SearchQuery{Text: "python singleton", ProjectID: "p1", Limit: 5, QueryType: "hybrid"})
	require.NoError(t, err)
	assert.Contains(t, warnings, "semantic_leg_failed")
	require.Len(t, results, 1)
	assert.Equal(t, core.MatchKeyword, results[0].MatchType)
}
