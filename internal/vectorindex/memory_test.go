package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRanksByCosineSimilarityDescending(t *testing.T) {
	idx := NewMemoryIndex(3)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "u1", []float32{1, 0, 0}, Payload{ProjectID: "p1", MemoryUnitID: "u1"}))
	require.NoError(t, idx.Upsert(ctx, "u2", []float32{0, 1, 0}, Payload{ProjectID: "p1", MemoryUnitID: "u2"}))
	require.NoError(t, idx.Upsert(ctx, "u3", []float32{0.9, 0.1, 0}, Payload{ProjectID: "p1", MemoryUnitID: "u3"}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, SearchFilter{ProjectID: "p1"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "u1", hits[0].PointID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "u3", hits[1].PointID)
	assert.Equal(t, "u2", hits[2].PointID)
}

func TestSearchFiltersByProject(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "u1", []float32{1, 0}, Payload{ProjectID: "p1"}))
	require.NoError(t, idx.Upsert(ctx, "u2", []float32{1, 0}, Payload{ProjectID: "p2"}))

	hits, err := idx.Search(ctx, []float32{1, 0}, SearchFilter{ProjectID: "p2"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "u2", hits[0].PointID)
}

func TestDeleteRemovesPoint(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "u1", []float32{1, 0}, Payload{ProjectID: "p1"}))
	require.NoError(t, idx.Delete(ctx, "u1"))

	count, err := idx.Count(ctx, SearchFilter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCosineSimilarityHandlesZeroVector(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
