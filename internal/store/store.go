// Package store implements the Persistent Store (C2): durable records of
// conversations, messages, and memory units, with transactional inserts
// and idempotent writes. Grounded on the teacher's
// internal/persistence/databases pgx-based stores (pool construction,
// BeginTx/defer-Rollback/Commit idiom, CREATE TABLE IF NOT EXISTS
// schemas) and its in-memory fallback stores.
package store

import (
	"context"
	"time"

	"mnemo/internal/core"
)

// Store is the C2 interface. All operations are safe for concurrent use.
type Store interface {
	// StoreConversation persists a Conversation and its Messages and
	// any already-produced MemoryUnits as one atomic unit. Calling it
	// twice with the same conversation id is a no-op on the second
	// call; it returns the originally stored memory unit ids.
	StoreConversation(ctx context.Context, conv core.Conversation, units []core.MemoryUnit) (core.StoreConversationResult, error)

	// UpsertMemoryUnitActive flips is_active and bumps updated_at.
	UpsertMemoryUnitActive(ctx context.Context, unitID string, active bool, now time.Time) error

	// GetMemoryUnit fetches one unit by id.
	GetMemoryUnit(ctx context.Context, id string) (core.MemoryUnit, bool, error)

	// ListMemoryUnitsByProject returns active units whose project id
	// equals projectID exactly.
	ListMemoryUnitsByProject(ctx context.Context, projectID string) ([]core.MemoryUnit, error)

	// SearchKeyword returns active units whose title/summary/content
	// match at least one of tokens, each annotated with the tokens it
	// matched — grounding for C5's keyword leg.
	SearchKeyword(ctx context.Context, projectID string, tokens []string, limit int) ([]KeywordHit, error)

	// RecordEmbedding records which vector exists for a memory unit.
	RecordEmbedding(ctx context.Context, emb core.Embedding) error

	// UnitsWithoutEmbedding returns up to limit active units that have
	// no embedding row — the orphan-sweep query.
	UnitsWithoutEmbedding(ctx context.Context, limit int) ([]core.MemoryUnit, error)

	// Health reports whether the store can currently serve requests.
	Health(ctx context.Context) core.ComponentHealth

	Close()
}

// KeywordHit pairs a MemoryUnit with the query tokens it matched.
type KeywordHit struct {
	Unit            core.MemoryUnit
	MatchedKeywords []string
}
