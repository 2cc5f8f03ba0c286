package injector

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/core"
	"mnemo/internal/fuser"
	"mnemo/internal/gateway"
	"mnemo/internal/retriever"
	"mnemo/internal/store"
	"mnemo/internal/vectorindex"
)

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float64, gateway.Usage, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		v := make([]float64, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, gateway.Usage{}, nil
}

func buildInjector(t *testing.T) (*Injector, *store.MemoryStore, *vectorindex.MemoryIndex) {
	t.Helper()
	gw := gateway.New(zerolog.Nop(), nil, 3)
	gw.RegisterProvider("p1", 2, nil, &fakeEmbedder{dim: 3}, nil, nil)
	gw.SetEmbedChain([]gateway.ChainEntry{{Model: "m1", Provider: "p1"}})

	st := store.NewMemoryStore()
	idx := vectorindex.NewMemoryIndex(3)
	r := retriever.New(gw, st, idx, nil, false, time.Minute, zerolog.Nop())
	f := fuser.New(gw, zerolog.Nop(), "light")
	return New(r, f, zerolog.Nop()), st, idx
}

func TestInjectReturnsOriginalPromptWhenNoMemoriesMatch(t *testing.T) {
	inj, _, _ := buildInjector(t)
	result, err := inj.Inject(context.Background(), core.ContextInjectionRequest{
		OriginalPrompt: "How do I tune my vector DB?",
		InjectionMode:  "minimal",
	})
	require.NoError(t, err)
	assert.Equal(t, "How do I tune my vector DB?", result.EnhancedPrompt)
	assert.Empty(t, result.InjectedMemories)
}

func TestInjectMinimalModeAssemblesBlockAndSeparator(t *testing.T) {
	inj, st, idx := buildInjector(t)
	ctx := context.Background()
	unit := core.MemoryUnit{ID: "u1", ProjectID: "global", IsActive: true, Title: "Qdrant tuning", Summary: "Use HNSW m=16.", CreatedAt: time.Now().UTC()}
	_, err := st.StoreConversation(ctx, core.Conversation{ID: "c1"}, []core.MemoryUnit{unit})
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, "u1", []float32{1, 0, 0}, vectorindex.Payload{MemoryUnitID: "u1"}))

	result, err := inj.Inject(ctx, core.ContextInjectionRequest{
		OriginalPrompt: "How do I tune my vector DB?",
		InjectionMode:  "minimal",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result.EnhancedPrompt, "How do I tune my vector DB?"))
	assert.Contains(t, result.EnhancedPrompt, "---")
	require.Len(t, result.InjectedMemories, 1)
	assert.Equal(t, "u1", result.InjectedMemories[0].ID)
}

func TestInjectMaxTokensSmallerThanPromptReturnsUnchanged(t *testing.T) {
	inj, st, idx := buildInjector(t)
	ctx := context.Background()
	unit := core.MemoryUnit{ID: "u1", ProjectID: "global", IsActive: true, Title: "Qdrant tuning", Summary: "Use HNSW m=16 for balanced recall versus speed tradeoffs.", CreatedAt: time.Now().UTC()}
	_, err := st.StoreConversation(ctx, core.Conversation{ID: "c1"}, []core.MemoryUnit{unit})
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, "u1", []float32{1, 0, 0}, vectorindex.Payload{MemoryUnitID: "u1"}))

	prompt := "How do I tune my vector database for production workloads?"
	result, err := inj.Inject(ctx, core.ContextInjectionRequest{
		OriginalPrompt: prompt,
		InjectionMode:  "minimal",
		MaxTokens:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, prompt, result.EnhancedPrompt)
	assert.Empty(t, result.InjectedMemories)
	assert.Contains(t, result.Warnings, "max_tokens_too_small")
}

func TestInjectUnknownModeWithNoMemoriesReturnsPrompt(t *testing.T) {
	inj, _, _ := buildInjector(t)
	result, err := inj.Inject(context.Background(), core.ContextInjectionRequest{
		OriginalPrompt: "hello",
		InjectionMode:  "nonsense",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.EnhancedPrompt)
}
