// Package orchestrator implements the Service Orchestrator (C8): it owns
// the lifecycles of every other component and exposes the four coarse
// public operations (store_conversation, search_memories, inject_context,
// status) consumed by both transport surfaces. Grounded on the teacher's
// internal/agentd.app struct, which plays the same role — one long-lived
// value holding every subsystem, constructed once in Run() and threaded
// into the HTTP handlers — generalized here to take an explicit
// CoreContext instead of a package-level app singleton.
package orchestrator

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"mnemo/internal/core"
	"mnemo/internal/corectx"
	"mnemo/internal/util"
	"mnemo/internal/vectorindex"
)

const degradedWindow = 60 * time.Second

// Orchestrator is the Service Orchestrator (C8).
type Orchestrator struct {
	cc  *corectx.CoreContext
	log zerolog.Logger

	startedAt time.Time

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	mu                     sync.Mutex
	conversationsProcessed int64
	memoriesCreated        int64
	searches               int64
	injections             int64

	degradedMu       sync.Mutex
	rerankDegradedAt time.Time

	opCounter metric.Int64Counter
}

// New builds an Orchestrator over an already-constructed CoreContext.
// Start must be called before the orphan sweep begins running.
func New(cc *corectx.CoreContext) *Orchestrator {
	o := &Orchestrator{cc: cc, log: cc.Log, startedAt: time.Now().UTC()}
	if cc.Meter != nil {
		if c, err := cc.Meter.Int64Counter("mnemo_orchestrator_ops_total"); err == nil {
			o.opCounter = c
		}
	}
	return o
}

// Start launches the background orphan sweep on the configured
// interval. It is idempotent-unsafe to call twice; callers own calling
// it exactly once after Build.
func (o *Orchestrator) Start(ctx context.Context) {
	interval := time.Duration(o.cc.Config.Limits.OrphanSweepIntervalSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	o.sweepCancel = cancel
	o.sweepDone = make(chan struct{})
	go o.sweepLoop(sweepCtx, interval)
}

// Stop cancels the orphan sweep and waits for its current tick to finish.
func (o *Orchestrator) Stop() {
	if o.sweepCancel != nil {
		o.sweepCancel()
		<-o.sweepDone
	}
}

func (o *Orchestrator) sweepLoop(ctx context.Context, interval time.Duration) {
	defer close(o.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepOnce(ctx)
		}
	}
}

// sweepOnce scans for active memory units with no embedding row and
// re-embeds/re-indexes them, bounded to the configured batch size. The
// point id equals the memory-unit id, so re-upserting an already-indexed
// unit is safe — this makes the sweep idempotent under overlap with a
// concurrent store_conversation indexing the same unit.
func (o *Orchestrator) sweepOnce(ctx context.Context) {
	batch := o.cc.Config.Limits.OrphanSweepBatch
	if batch <= 0 {
		batch = 50
	}
	units, err := o.cc.Store.UnitsWithoutEmbedding(ctx, batch)
	if err != nil {
		o.log.Warn().Err(err).Msg("orchestrator: orphan sweep failed to list units")
		return
	}
	for _, u := range units {
		if err := o.indexUnit(ctx, u); err != nil {
			o.log.Warn().Err(err).Str("memory_unit_id", u.ID).Msg("orchestrator: orphan sweep failed to index unit")
			continue
		}
	}
	if len(units) > 0 {
		o.log.Info().Int("count", len(units)).Msg("orchestrator: orphan sweep indexed units")
	}
}

// StoreConversation runs the ingestion pipeline: compress, persist, then
// best-effort embed+index. A unit that fails to index stays persisted
// and active but without an embedding row — an Orphan, picked up by the
// background sweep. Replaying the same conversation id is idempotent:
// the store no-ops the second persist and the original ids are
// returned unchanged, with no duplicate embedding/index work performed.
func (o *Orchestrator) StoreConversation(ctx context.Context, conv core.Conversation) (core.StoreConversationResult, error) {
	if err := validateConversation(conv); err != nil {
		return core.StoreConversationResult{}, err
	}

	normalizeConversation(&conv)

	units, compressWarnings, err := o.cc.Compressor.Compress(ctx, conv)
	if err != nil {
		return core.StoreConversationResult{}, fmt.Errorf("orchestrator: compress conversation %s: %w", conv.ID, err)
	}

	result, err := o.cc.Store.StoreConversation(ctx, conv, units)
	if err != nil {
		return core.StoreConversationResult{}, fmt.Errorf("orchestrator: persist conversation %s: %w", conv.ID, err)
	}

	warnings := append([]string(nil), compressWarnings...)

	if freshInsert(units, result.MemoryUnitIDs) {
		var indexWarnings []string
		for _, u := range units {
			if err := o.indexUnit(ctx, u); err != nil {
				o.log.Warn().Err(err).Str("memory_unit_id", u.ID).Msg("orchestrator: unit left orphaned, will retry via sweep")
				indexWarnings = append(indexWarnings, "unit_orphaned:"+u.ID)
			}
		}
		warnings = append(warnings, indexWarnings...)

		o.mu.Lock()
		o.conversationsProcessed++
		o.memoriesCreated += int64(len(units))
		o.mu.Unlock()

		if o.cc.Retriever != nil {
			o.cc.Retriever.InvalidateProject(ctx, conv.ProjectID)
		}
	}

	o.countOp(ctx, "store_conversation")
	result.Warnings = warnings
	return result, nil
}

// indexUnit embeds a unit's content, upserts it into the vector index
// under its own id as point id, and records the embedding row. A
// dimensionality mismatch from the gateway is Fatal and is never
// written to the index — the unit is simply left unindexed for the
// sweep to retry once the embedding model configuration is fixed.
func (o *Orchestrator) indexUnit(ctx context.Context, u core.MemoryUnit) error {
	vecs, err := o.cc.Gateway.Embed(ctx, []string{u.Content})
	if err != nil {
		return err
	}
	vec := toFloat32(vecs[0])
	payload := vectorindex.Payload{
		MemoryUnitID:   u.ID,
		ProjectID:      u.ProjectID,
		UnitType:       string(u.UnitType),
		Title:          u.Title,
		Summary:        u.Summary,
		Keywords:       u.Keywords,
		CreatedAtUnix:  u.CreatedAt.Unix(),
		RelevanceScore: u.RelevanceScore,
	}
	if err := o.cc.VectorIndex.Upsert(ctx, u.ID, vec, payload); err != nil {
		return fmt.Errorf("vector index upsert: %w", err)
	}
	return o.cc.Store.RecordEmbedding(ctx, core.Embedding{
		MemoryUnitID: u.ID,
		ModelName:    o.cc.Config.Models.Embed,
		Dimension:    o.cc.Gateway.Dimension(),
		CreatedAt:    time.Now().UTC(),
	})
}

// SearchMemories runs C5 for query, applying projectID as an override
// when query.ProjectID is unset.
func (o *Orchestrator) SearchMemories(ctx context.Context, query core.SearchQuery, projectID string) ([]core.SearchResult, error) {
	if query.Text == "" {
		return nil, &core.ValidationError{Field: "query", Message: "query text must not be empty"}
	}
	if !utf8.ValidString(query.Text) {
		return nil, &core.ValidationError{Field: "query", Message: "query text must be valid UTF-8"}
	}
	if query.Limit < 0 {
		return nil, &core.ValidationError{Field: "limit", Message: "limit must not be negative"}
	}
	if query.ProjectID == "" {
		query.ProjectID = projectID
	}

	results, _, warnings, err := o.cc.Retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: search: %w", err)
	}
	for _, w := range warnings {
		if w == "rerank_degraded" {
			o.markRerankDegraded()
		}
	}

	o.mu.Lock()
	o.searches++
	o.mu.Unlock()
	o.countOp(ctx, "search_memories")
	return results, nil
}

// InjectContext runs C7 for req.
func (o *Orchestrator) InjectContext(ctx context.Context, req core.ContextInjectionRequest) (core.ContextInjectionResult, error) {
	if req.OriginalPrompt == "" {
		return core.ContextInjectionResult{}, &core.ValidationError{Field: "original_prompt", Message: "original_prompt must not be empty"}
	}
	result, err := o.cc.Injector.Inject(ctx, req)
	if err != nil {
		return core.ContextInjectionResult{}, fmt.Errorf("orchestrator: inject: %w", err)
	}
	for _, w := range result.Warnings {
		if w == "rerank_degraded" {
			o.markRerankDegraded()
		}
	}

	o.mu.Lock()
	o.injections++
	o.mu.Unlock()
	o.countOp(ctx, "inject_context")
	return result, nil
}

// Status reports uptime, operation counters, and per-component health.
func (o *Orchestrator) Status(ctx context.Context) core.Status {
	o.mu.Lock()
	counters := core.Counters{
		ConversationsProcessed: o.conversationsProcessed,
		MemoriesCreated:        o.memoriesCreated,
		Searches:               o.searches,
		Injections:             o.injections,
	}
	o.mu.Unlock()

	return core.Status{
		UptimeSeconds:   time.Since(o.startedAt).Seconds(),
		Counters:        counters,
		ComponentHealth: o.componentHealth(ctx),
	}
}

func (o *Orchestrator) componentHealth(ctx context.Context) map[string]core.ComponentHealth {
	health := make(map[string]core.ComponentHealth, 7)
	health["store"] = o.cc.Store.Health(ctx)

	if _, err := o.cc.VectorIndex.Count(ctx, vectorindex.SearchFilter{}); err != nil {
		health["vector_index"] = core.HealthDown
	} else {
		health["vector_index"] = core.HealthOK
	}

	health["gateway"] = core.HealthOK
	health["compressor"] = core.HealthOK
	health["fuser"] = core.HealthOK
	health["injector"] = core.HealthOK

	if o.rerankRecentlyDegraded() {
		health["retriever"] = core.HealthDegraded
	} else {
		health["retriever"] = core.HealthOK
	}
	return health
}

func (o *Orchestrator) markRerankDegraded() {
	o.degradedMu.Lock()
	o.rerankDegradedAt = time.Now().UTC()
	o.degradedMu.Unlock()
}

func (o *Orchestrator) rerankRecentlyDegraded() bool {
	o.degradedMu.Lock()
	defer o.degradedMu.Unlock()
	return !o.rerankDegradedAt.IsZero() && time.Since(o.rerankDegradedAt) < degradedWindow
}

func (o *Orchestrator) countOp(ctx context.Context, op string) {
	if o.opCounter != nil {
		o.opCounter.Add(ctx, 1, metric.WithAttributes())
	}
}

func validateConversation(conv core.Conversation) error {
	if conv.ID == "" {
		return &core.ValidationError{Field: "id", Message: "conversation id must not be empty"}
	}
	for _, m := range conv.Messages {
		if !utf8.ValidString(m.Content) {
			return &core.ValidationError{Field: "messages.content", Message: "message content must be valid UTF-8"}
		}
	}
	return nil
}

// normalizeConversation fills derived aggregate fields the store's
// invariants require: message_count equals the live message count, and
// timestamps default to now when unset.
func normalizeConversation(conv *core.Conversation) {
	now := time.Now().UTC()
	if conv.StartedAt.IsZero() {
		conv.StartedAt = now
	}
	conv.LastActivityAt = now
	conv.MessageCount = len(conv.Messages)
	if conv.Status == "" {
		conv.Status = core.ConversationActive
	}
	var tokens int
	for i := range conv.Messages {
		if conv.Messages[i].TokenCount == 0 {
			conv.Messages[i].TokenCount = util.EstimateTokens(conv.Messages[i].Content)
		}
		tokens += conv.Messages[i].TokenCount
	}
	conv.TokenCount = tokens
}

// freshInsert reports whether result contains exactly the ids just
// generated for units, in order — i.e. this StoreConversation call was
// the first for this conversation id, not a replay the store deduped.
func freshInsert(units []core.MemoryUnit, resultIDs []string) bool {
	if len(units) != len(resultIDs) {
		return false
	}
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return reflect.DeepEqual(ids, resultIDs)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
