package store

import (
	"context"
	"sync"
	"time"

	"mnemo/internal/core"
)

// MemoryStore is an in-process Store used for tests and `store.url`-less
// deployments, grounded on the teacher's in-memory fallback stores
// (memory_search.go, memory_vector.go) — a mutex-guarded map standing in
// for a real database.
type MemoryStore struct {
	mu         sync.RWMutex
	convByID   map[string]core.Conversation
	unitsByID  map[string]core.MemoryUnit
	unitsByConv map[string][]string
	embByUnit  map[string]core.Embedding
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convByID:    make(map[string]core.Conversation),
		unitsByID:   make(map[string]core.MemoryUnit),
		unitsByConv: make(map[string][]string),
		embByUnit:   make(map[string]core.Embedding),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Health(ctx context.Context) core.ComponentHealth { return core.HealthOK }

func (s *MemoryStore) StoreConversation(ctx context.Context, conv core.Conversation, units []core.MemoryUnit) (core.StoreConversationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ids, ok := s.unitsByConv[conv.ID]; ok {
		return core.StoreConversationResult{MemoryUnitIDs: append([]string(nil), ids...)}, nil
	}

	s.convByID[conv.ID] = conv
	ids := make([]string, 0, len(units))
	for _, u := range units {
		s.unitsByID[u.ID] = u
		ids = append(ids, u.ID)
	}
	s.unitsByConv[conv.ID] = ids
	return core.StoreConversationResult{MemoryUnitIDs: ids}, nil
}

func (s *MemoryStore) UpsertMemoryUnitActive(ctx context.Context, unitID string, active bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.unitsByID[unitID]
	if !ok {
		return nil
	}
	u.IsActive = active
	u.UpdatedAt = now
	s.unitsByID[unitID] = u
	return nil
}

func (s *MemoryStore) GetMemoryUnit(ctx context.Context, id string) (core.MemoryUnit, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.unitsByID[id]
	return u, ok, nil
}

func (s *MemoryStore) ListMemoryUnitsByProject(ctx context.Context, projectID string) ([]core.MemoryUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.MemoryUnit
	for _, u := range s.unitsByID {
		if u.IsActive && u.ProjectID == projectID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MemoryStore) SearchKeyword(ctx context.Context, projectID string, tokens []string, limit int) ([]KeywordHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []KeywordHit
	for _, u := range s.unitsByID {
		if !u.IsActive {
			continue
		}
		if projectID != "" && u.ProjectID != projectID {
			continue
		}
		matched := matchedTokens(u, tokens)
		if len(matched) == 0 {
			continue
		}
		out = append(out, KeywordHit{Unit: u, MatchedKeywords: matched})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordEmbedding(ctx context.Context, emb core.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embByUnit[emb.MemoryUnitID] = emb
	return nil
}

func (s *MemoryStore) UnitsWithoutEmbedding(ctx context.Context, limit int) ([]core.MemoryUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.MemoryUnit
	for id, u := range s.unitsByID {
		if !u.IsActive {
			continue
		}
		if _, ok := s.embByUnit[id]; ok {
			continue
		}
		out = append(out, u)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
