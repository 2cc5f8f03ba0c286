package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/core"
)

func TestStoreConversationIsIdempotentOnID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := core.Conversation{ID: "c1", ProjectID: "p1", StartedAt: time.Now(), LastActivityAt: time.Now()}
	units := []core.MemoryUnit{{ID: "u1", ConversationID: "c1", ProjectID: "p1", IsActive: true}}

	first, err := s.StoreConversation(ctx, conv, units)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, first.MemoryUnitIDs)

	second, err := s.StoreConversation(ctx, conv, units)
	require.NoError(t, err)
	assert.Equal(t, first.MemoryUnitIDs, second.MemoryUnitIDs)
}

func TestUnitsWithoutEmbeddingExcludesRecorded(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.StoreConversation(ctx, core.Conversation{ID: "c1"}, []core.MemoryUnit{
		{ID: "u1", ConversationID: "c1", IsActive: true},
		{ID: "u2", ConversationID: "c1", IsActive: true},
	})
	require.NoError(t, err)

	require.NoError(t, s.RecordEmbedding(ctx, core.Embedding{MemoryUnitID: "u1", ModelName: "m", Dimension: 4}))

	orphans, err := s.UnitsWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "u2", orphans[0].ID)
}

func TestSearchKeywordMatchesSubstringAcrossFields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.StoreConversation(ctx, core.Conversation{ID: "c1"}, []core.MemoryUnit{
		{ID: "u1", ConversationID: "c1", ProjectID: "p1", IsActive: true, Title: "Python singleton pattern"},
	})
	require.NoError(t, err)

	hits, err := s.SearchKeyword(ctx, "p1", []string{"singleton"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "u1", hits[0].Unit.ID)
	assert.Contains(t, hits[0].MatchedKeywords, "singleton")
}
