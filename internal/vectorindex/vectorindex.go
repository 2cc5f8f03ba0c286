// Package vectorindex implements the Vector Index (C3): a collection of
// fixed-dimension vectors with payloads, upsert, filtered search, payload
// patch, delete, and count. Grounded on the teacher's
// internal/persistence/databases qdrant_vector.go (deterministic
// UUID point ids, payload round-tripping) and memory_vector.go
// (in-memory cosine fallback).
package vectorindex

import "context"

// Payload is the fixed set of fields the spec requires on every point.
type Payload struct {
	MemoryUnitID   string
	ProjectID      string
	UnitType       string
	Title          string
	Summary        string
	Keywords       []string
	CreatedAtUnix  int64
	RelevanceScore float64
}

// SearchFilter constrains a vector search to one project.
type SearchFilter struct {
	ProjectID string
}

// SearchHit is one k-NN search result. Score is cosine similarity in
// [0,1].
type SearchHit struct {
	PointID string
	Score   float64
	Payload Payload
}

// VectorIndex is the C3 interface.
type VectorIndex interface {
	Upsert(ctx context.Context, pointID string, vector []float32, payload Payload) error
	Search(ctx context.Context, vector []float32, filter SearchFilter, limit int) ([]SearchHit, error)
	SetPayload(ctx context.Context, pointID string, patch Payload) error
	Delete(ctx context.Context, pointID string) error
	Count(ctx context.Context, filter SearchFilter) (int, error)
	Dimension() int
	Close() error
}
