package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process VectorIndex used for tests and
// `vector_index.url`-less deployments, grounded on the teacher's
// in-memory fallback (memory_vector.go) — brute-force cosine similarity
// over a mutex-guarded map standing in for a real ANN index.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]memoryPoint
}

type memoryPoint struct {
	vector  []float32
	payload Payload
}

func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{dimension: dimension, points: make(map[string]memoryPoint)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, pointID string, vector []float32, payload Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[pointID] = memoryPoint{vector: append([]float32(nil), vector...), payload: payload}
	return nil
}

func (m *MemoryIndex) SetPayload(ctx context.Context, pointID string, patch Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.points[pointID]
	if !ok {
		return nil
	}
	p.payload = patch
	m.points[pointID] = p
	return nil
}

func (m *MemoryIndex) Delete(ctx context.Context, pointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, pointID)
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, vector []float32, filter SearchFilter, limit int) ([]SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]SearchHit, 0, len(m.points))
	for id, p := range m.points {
		if filter.ProjectID != "" && p.payload.ProjectID != filter.ProjectID {
			continue
		}
		hits = append(hits, SearchHit{PointID: id, Score: cosineSimilarity(vector, p.vector), Payload: p.payload})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryIndex) Count(ctx context.Context, filter SearchFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if filter.ProjectID == "" {
		return len(m.points), nil
	}
	n := 0
	for _, p := range m.points {
		if p.payload.ProjectID == filter.ProjectID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryIndex) Dimension() int { return m.dimension }

func (m *MemoryIndex) Close() error { return nil }

// cosineSimilarity clamps negative results to 0 so scores stay in the
// [0,1] range the rest of the pipeline assumes, matching the contract
// Qdrant's cosine distance gives us.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	return sim
}
