package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mnemo/internal/core"
)

// PostgresStore is the pgx-backed Store, built the same way the
// teacher's pgChatStore wraps a pgxpool.Pool: short-lived scoped
// transactions, CREATE TABLE IF NOT EXISTS schema setup, BeginTx/defer
// Rollback/Commit for atomic multi-table writes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPool builds a pgxpool.Pool with the bounds the spec's
// concurrency model requires (FIFO acquisition, bounded size).
func NewPostgresPool(ctx context.Context, dsn string, poolSize int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if poolSize <= 0 {
		poolSize = 10
	}
	cfg.MaxConns = int32(poolSize)
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: new pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return pool, nil
}

// NewPostgresStore wraps an already-constructed pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Init creates the four tables mirroring the §3 data model.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    session_id TEXT,
    title TEXT,
    started_at TIMESTAMPTZ NOT NULL,
    last_activity_at TIMESTAMPTZ NOT NULL,
    message_count INT NOT NULL DEFAULT 0,
    token_count INT NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'active',
    metadata JSONB
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    message_type TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    token_count INT NOT NULL DEFAULT 0,
    metadata JSONB,
    insertion_order BIGSERIAL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp, insertion_order);

CREATE TABLE IF NOT EXISTS memory_units (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    unit_type TEXT NOT NULL,
    title TEXT NOT NULL,
    summary TEXT NOT NULL,
    content TEXT NOT NULL,
    keywords JSONB,
    relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    token_count INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    metadata JSONB
);
CREATE INDEX IF NOT EXISTS idx_memory_units_project ON memory_units(project_id, is_active);
CREATE INDEX IF NOT EXISTS idx_memory_units_conversation ON memory_units(conversation_id);

CREATE TABLE IF NOT EXISTS embeddings (
    memory_unit_id TEXT PRIMARY KEY REFERENCES memory_units(id) ON DELETE CASCADE,
    model_name TEXT NOT NULL,
    dimension INT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Health(ctx context.Context) core.ComponentHealth {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.pool.Ping(pingCtx); err != nil {
		return core.HealthDown
	}
	return core.HealthOK
}

// StoreConversation is idempotent on conv.ID: if the conversation already
// exists, it returns the memory-unit ids already on file and performs no
// writes, satisfying the spec's replay-idempotence law.
func (s *PostgresStore) StoreConversation(ctx context.Context, conv core.Conversation, units []core.MemoryUnit) (core.StoreConversationResult, error) {
	var existing []string
	err := s.pool.QueryRow(ctx, `SELECT coalesce(array_agg(id), '{}') FROM memory_units WHERE conversation_id = $1`, conv.ID).Scan(&existing)
	if err == nil && len(existing) > 0 {
		return core.StoreConversationResult{MemoryUnitIDs: existing}, nil
	}

	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM conversations WHERE id = $1`, conv.ID).Scan(&count); err != nil {
		return core.StoreConversationResult{}, fmt.Errorf("store: check existing conversation: %w", err)
	}
	if count > 0 {
		return core.StoreConversationResult{MemoryUnitIDs: existing}, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return core.StoreConversationResult{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	meta, _ := json.Marshal(conv.Metadata)
	_, err = tx.Exec(ctx, `
INSERT INTO conversations (id, project_id, session_id, title, started_at, last_activity_at, message_count, token_count, status, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO NOTHING`,
		conv.ID, conv.ProjectID, conv.SessionID, conv.Title, conv.StartedAt, conv.LastActivityAt,
		conv.MessageCount, conv.TokenCount, string(conv.Status), meta)
	if err != nil {
		return core.StoreConversationResult{}, fmt.Errorf("store: insert conversation: %w", err)
	}

	for _, m := range conv.Messages {
		mmeta, _ := json.Marshal(m.Metadata)
		_, err = tx.Exec(ctx, `
INSERT INTO messages (id, conversation_id, message_type, content, timestamp, token_count, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO NOTHING`,
			m.ID, conv.ID, string(m.Type), m.Content, m.Timestamp, m.TokenCount, mmeta)
		if err != nil {
			return core.StoreConversationResult{}, fmt.Errorf("store: insert message: %w", err)
		}
	}

	ids := make([]string, 0, len(units))
	for _, u := range units {
		kw, _ := json.Marshal(u.Keywords)
		umeta, _ := json.Marshal(u.Metadata)
		_, err = tx.Exec(ctx, `
INSERT INTO memory_units (id, conversation_id, project_id, unit_type, title, summary, content, keywords, relevance_score, token_count, created_at, updated_at, expires_at, is_active, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO NOTHING`,
			u.ID, u.ConversationID, u.ProjectID, string(u.UnitType), u.Title, u.Summary, u.Content,
			kw, u.RelevanceScore, u.TokenCount, u.CreatedAt, u.UpdatedAt, u.ExpiresAt, u.IsActive, umeta)
		if err != nil {
			return core.StoreConversationResult{}, fmt.Errorf("store: insert memory unit: %w", err)
		}
		ids = append(ids, u.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.StoreConversationResult{}, fmt.Errorf("store: commit: %w", err)
	}
	return core.StoreConversationResult{MemoryUnitIDs: ids}, nil
}

func (s *PostgresStore) UpsertMemoryUnitActive(ctx context.Context, unitID string, active bool, now time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE memory_units SET is_active = $2, updated_at = $3 WHERE id = $1`, unitID, active, now)
	if err != nil {
		return fmt.Errorf("store: upsert active: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMemoryUnit(ctx context.Context, id string) (core.MemoryUnit, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, conversation_id, project_id, unit_type, title, summary, content, keywords, relevance_score, token_count, created_at, updated_at, expires_at, is_active, metadata FROM memory_units WHERE id = $1`, id)
	u, err := scanMemoryUnit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.MemoryUnit{}, false, nil
	}
	if err != nil {
		return core.MemoryUnit{}, false, fmt.Errorf("store: get memory unit: %w", err)
	}
	return u, true, nil
}

func (s *PostgresStore) ListMemoryUnitsByProject(ctx context.Context, projectID string) ([]core.MemoryUnit, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, conversation_id, project_id, unit_type, title, summary, content, keywords, relevance_score, token_count, created_at, updated_at, expires_at, is_active, metadata FROM memory_units WHERE project_id = $1 AND is_active = TRUE`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list by project: %w", err)
	}
	defer rows.Close()
	var out []core.MemoryUnit
	for rows.Next() {
		u, err := scanMemoryUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan memory unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SearchKeyword(ctx context.Context, projectID string, tokens []string, limit int) ([]KeywordHit, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	var conds []string
	args := []any{}
	argN := 1
	for _, t := range tokens {
		conds = append(conds, fmt.Sprintf("(lower(title) LIKE $%d OR lower(summary) LIKE $%d OR lower(content) LIKE $%d)", argN, argN, argN))
		args = append(args, "%"+strings.ToLower(t)+"%")
		argN++
	}
	query := fmt.Sprintf(`SELECT id, conversation_id, project_id, unit_type, title, summary, content, keywords, relevance_score, token_count, created_at, updated_at, expires_at, is_active, metadata
FROM memory_units WHERE is_active = TRUE AND (%s)`, strings.Join(conds, " OR "))
	if projectID != "" {
		query += fmt.Sprintf(" AND project_id = $%d", argN)
		args = append(args, projectID)
		argN++
	}
	query += fmt.Sprintf(" LIMIT $%d", argN)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search keyword: %w", err)
	}
	defer rows.Close()
	var out []KeywordHit
	for rows.Next() {
		u, err := scanMemoryUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan keyword hit: %w", err)
		}
		out = append(out, KeywordHit{Unit: u, MatchedKeywords: matchedTokens(u, tokens)})
	}
	return out, rows.Err()
}

func matchedTokens(u core.MemoryUnit, tokens []string) []string {
	haystack := strings.ToLower(u.Title + " " + u.Summary + " " + u.Content)
	var out []string
	for _, t := range tokens {
		if strings.Contains(haystack, strings.ToLower(t)) {
			out = append(out, t)
		}
	}
	return out
}

func (s *PostgresStore) RecordEmbedding(ctx context.Context, emb core.Embedding) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO embeddings (memory_unit_id, model_name, dimension, created_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (memory_unit_id) DO UPDATE SET model_name = EXCLUDED.model_name, dimension = EXCLUDED.dimension, created_at = EXCLUDED.created_at`,
		emb.MemoryUnitID, emb.ModelName, emb.Dimension, emb.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: record embedding: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnitsWithoutEmbedding(ctx context.Context, limit int) ([]core.MemoryUnit, error) {
	rows, err := s.pool.Query(ctx, `
SELECT m.id, m.conversation_id, m.project_id, m.unit_type, m.title, m.summary, m.content, m.keywords, m.relevance_score, m.token_count, m.created_at, m.updated_at, m.expires_at, m.is_active, m.metadata
FROM memory_units m
LEFT JOIN embeddings e ON e.memory_unit_id = m.id
WHERE m.is_active = TRUE AND e.memory_unit_id IS NULL
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: orphan scan: %w", err)
	}
	defer rows.Close()
	var out []core.MemoryUnit
	for rows.Next() {
		u, err := scanMemoryUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan orphan: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryUnit(row rowScanner) (core.MemoryUnit, error) {
	var u core.MemoryUnit
	var unitType string
	var keywordsRaw, metaRaw []byte
	err := row.Scan(&u.ID, &u.ConversationID, &u.ProjectID, &unitType, &u.Title, &u.Summary, &u.Content,
		&keywordsRaw, &u.RelevanceScore, &u.TokenCount, &u.CreatedAt, &u.UpdatedAt, &u.ExpiresAt, &u.IsActive, &metaRaw)
	if err != nil {
		return core.MemoryUnit{}, err
	}
	u.UnitType = core.UnitType(unitType)
	if len(keywordsRaw) > 0 {
		_ = json.Unmarshal(keywordsRaw, &u.Keywords)
	}
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &u.Metadata)
	}
	return u, nil
}
