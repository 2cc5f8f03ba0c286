// Package retriever implements the Semantic Retriever (C5): embed the
// query, run dense and keyword legs in parallel, merge by the spec's
// hybrid-score rule, rerank (falling back to a deterministic rule-based
// formula), cache the result with a TTL, and guarantee at most one
// in-flight pipeline per query fingerprint. Grounded on the teacher's
// internal/rag hybrid-search pipeline and its use of
// golang.org/x/sync/singleflight-shaped single-build-per-key guards
// around cache population.
package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"mnemo/internal/core"
	"mnemo/internal/gateway"
	"mnemo/internal/store"
	"mnemo/internal/util"
	"mnemo/internal/vectorindex"
)

const (
	defaultLimit      = 5
	defaultMinScore   = 0.3
	overfetchFactor   = 4
	maxQueryChars     = 4096
	recencyHalflifeDays = 30.0
)

// Timings reports the per-stage latency of one Retrieve call.
type Timings struct {
	EmbedMs   int64
	VectorMs  int64
	KeywordMs int64
	RerankMs  int64
	TotalMs   int64
}

// Retriever is the Semantic Retriever (C5).
type Retriever struct {
	gw    *gateway.Gateway
	store store.Store
	index vectorindex.VectorIndex
	cache *redis.Client
	log   zerolog.Logger

	cacheEnabled bool
	cacheTTL     time.Duration
	sf           singleflight.Group
}

// New builds a Retriever. cache may be nil to disable the query-result
// cache regardless of cacheEnabled.
func New(gw *gateway.Gateway, st store.Store, index vectorindex.VectorIndex, cache *redis.Client, cacheEnabled bool, cacheTTL time.Duration, log zerolog.Logger) *Retriever {
	return &Retriever{gw: gw, store: st, index: index, cache: cache, cacheEnabled: cacheEnabled, cacheTTL: cacheTTL, log: log}
}

// Retrieve runs the full C5 pipeline for query, with query-text
// truncation, caching, and the single-flight guarantee. A zero Limit
// returns no results without calling any provider, a negative Limit is
// replaced by the default of 5, and MinScore is applied as given.
func (r *Retriever) Retrieve(ctx context.Context, query core.SearchQuery) ([]core.SearchResult, Timings, []string, error) {
	start := time.Now()
	var warnings []string

	if len(query.Text) > maxQueryChars {
		query.Text = query.Text[:maxQueryChars]
		warnings = append(warnings, "query_truncated")
	}
	if query.Limit == 0 {
		return nil, Timings{TotalMs: time.Since(start).Milliseconds()}, warnings, nil
	}
	if query.Limit < 0 {
		query.Limit = defaultLimit
	}
	minScore := query.MinScore
	if query.QueryType == "" {
		query.QueryType = "hybrid"
	}

	fp := fingerprint(query)
	if r.cacheEnabled && r.cache != nil {
		if cached, ok := r.readCache(ctx, fp); ok {
			return cached, Timings{TotalMs: time.Since(start).Milliseconds()}, warnings, nil
		}
	}

	v, err, _ := r.sf.Do(fp, func() (any, error) {
		results, timings, pipelineWarnings, err := r.runPipeline(ctx, query, minScore)
		if err != nil {
			return nil, err
		}
		if r.cacheEnabled && r.cache != nil {
			r.writeCache(ctx, fp, results)
		}
		return pipelineOutput{results: results, timings: timings, warnings: pipelineWarnings}, nil
	})
	if err != nil {
		return nil, Timings{}, warnings, err
	}
	out := v.(pipelineOutput)
	out.timings.TotalMs = time.Since(start).Milliseconds()
	return out.results, out.timings, append(warnings, out.warnings...), nil
}

type pipelineOutput struct {
	results  []core.SearchResult
	timings  Timings
	warnings []string
}

type candidate struct {
	unit            core.MemoryUnit
	semScore        float64
	hasSem          bool
	kwScore         float64
	hasKw           bool
	matchedKeywords []string
}

func (r *Retriever) runPipeline(ctx context.Context, query core.SearchQuery, minScore float64) ([]core.SearchResult, Timings, []string, error) {
	var timings Timings
	var warnings []string
	candidates := make(map[string]*candidate)
	overfetch := query.Limit * overfetchFactor

	var vec []float64
	var embedErr error
	if query.QueryType != "keyword" {
		embedStart := time.Now()
		vecs, err := r.gw.Embed(ctx, []string{query.Text})
		timings.EmbedMs = time.Since(embedStart).Milliseconds()
		if err != nil {
			embedErr = err
			if query.QueryType == "semantic" {
				return nil, timings, warnings, fmt.Errorf("retriever: semantic leg failed: %w", err)
			}
			warnings = append(warnings, "semantic_leg_failed")
		} else {
			vec = vecs[0]
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	if embedErr == nil && vec != nil {
		g.Go(func() error {
			vectorStart := time.Now()
			vecF32 := toFloat32(vec)
			hits, err := r.index.Search(gctx, vecF32, vectorindex.SearchFilter{ProjectID: query.ProjectID}, overfetch)
			timings.VectorMs = time.Since(vectorStart).Milliseconds()
			if err != nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, hit := range hits {
				unit, ok, err := r.store.GetMemoryUnit(gctx, hit.PointID)
				if err != nil || !ok || !unit.IsActive {
					continue
				}
				c := candidates[unit.ID]
				if c == nil {
					c = &candidate{unit: unit}
					candidates[unit.ID] = c
				}
				c.semScore = hit.Score
				c.hasSem = true
			}
			return nil
		})
	}

	if query.QueryType != "semantic" {
		g.Go(func() error {
			keywordStart := time.Now()
			tokens := util.Tokenize(query.Text)
			hits, err := r.store.SearchKeyword(gctx, query.ProjectID, tokens, overfetch)
			timings.KeywordMs = time.Since(keywordStart).Milliseconds()
			if err != nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, hit := range hits {
				c := candidates[hit.Unit.ID]
				if c == nil {
					c = &candidate{unit: hit.Unit}
					candidates[hit.Unit.ID] = c
				}
				c.matchedKeywords = hit.MatchedKeywords
				c.hasKw = true
				if len(tokens) > 0 {
					c.kwScore = float64(len(hit.MatchedKeywords)) / float64(len(tokens))
				}
			}
			return nil
		})
	}

	_ = g.Wait()

	results := mergeCandidates(candidates)

	rerankMs, rerankWarnings := r.applyRerank(ctx, query, results)
	timings.RerankMs = rerankMs
	warnings = append(warnings, rerankWarnings...)

	final := make([]core.SearchResult, 0, len(results))
	for _, res := range results {
		if res.RelevanceScore < minScore {
			continue
		}
		final = append(final, res)
	}
	sort.SliceStable(final, func(i, j int) bool {
		if final[i].RelevanceScore != final[j].RelevanceScore {
			return final[i].RelevanceScore > final[j].RelevanceScore
		}
		return final[i].MemoryUnit.CreatedAt.After(final[j].MemoryUnit.CreatedAt)
	})
	if len(final) > query.Limit {
		final = final[:query.Limit]
	}
	return final, timings, warnings, nil
}

func mergeCandidates(candidates map[string]*candidate) []core.SearchResult {
	out := make([]core.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		var score float64
		var matchType core.MatchType
		switch {
		case c.hasSem && c.hasKw:
			score = math.Min(1.0, math.Max(c.semScore, c.kwScore)+0.1)
			matchType = core.MatchHybrid
		case c.hasSem:
			score = c.semScore
			matchType = core.MatchSemantic
		default:
			score = c.kwScore
			matchType = core.MatchKeyword
		}
		out = append(out, core.SearchResult{
			MemoryUnit:      c.unit,
			RelevanceScore:  score,
			MatchType:       matchType,
			MatchedKeywords: c.matchedKeywords,
		})
	}
	return out
}

// applyRerank leaves fewer than two results untouched. With two or more
// it reranks them in place via the gateway when a rerank model is
// configured and the call succeeds; otherwise it applies the rule-based
// fallback formula and records "rerank_degraded".
func (r *Retriever) applyRerank(ctx context.Context, query core.SearchQuery, results []core.SearchResult) (int64, []string) {
	if len(results) < 2 {
		return 0, nil
	}
	if r.gw.HasRerank() {
		start := time.Now()
		docs := make([]string, len(results))
		for i, res := range results {
			docs[i] = res.MemoryUnit.Summary
		}
		scored, err := r.gw.Rerank(ctx, query.Text, docs, query.Limit)
		elapsed := time.Since(start).Milliseconds()
		if err == nil {
			for _, s := range scored {
				if s.Index < 0 || s.Index >= len(results) {
					continue
				}
				score := s.Score
				results[s.Index].RerankScore = &score
				results[s.Index].RelevanceScore = score
			}
			return elapsed, nil
		}
		r.log.Warn().Err(err).Msg("retriever: rerank failed, falling back to rule-based scoring")
	}
	applyRuleBasedRerank(results)
	return 0, []string{"rerank_degraded"}
}

// applyRuleBasedRerank implements the pinned fallback formula:
// 0.6·pre_rerank_score + 0.2·importance + 0.2·recency_decay(age_days).
func applyRuleBasedRerank(results []core.SearchResult) {
	now := time.Now().UTC()
	for i := range results {
		pre := results[i].RelevanceScore
		importance := results[i].MemoryUnit.RelevanceScore
		ageDays := now.Sub(results[i].MemoryUnit.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		decay := math.Exp(-ageDays / recencyHalflifeDays)
		results[i].RelevanceScore = 0.6*pre + 0.2*importance + 0.2*decay
	}
}

func fingerprint(query core.SearchQuery) string {
	return fmt.Sprintf("%s|%s|%d|%.4f", query.ProjectID, query.Text, query.Limit, query.MinScore)
}

func cacheKey(fp string) string { return "mnemo:search:" + fp }

func (r *Retriever) readCache(ctx context.Context, fp string) ([]core.SearchResult, bool) {
	raw, err := r.cache.Get(ctx, cacheKey(fp)).Bytes()
	if err != nil {
		return nil, false
	}
	var results []core.SearchResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, false
	}
	return results, true
}

func (r *Retriever) writeCache(ctx context.Context, fp string, results []core.SearchResult) {
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(fp), raw, r.cacheTTL).Err(); err != nil {
		r.log.Warn().Err(err).Msg("retriever: cache write failed")
	}
}

// InvalidateProject drops every cached query result scoped to
// projectID, since a write to C2/C3 can change the answer for any query
// against that project.
func (r *Retriever) InvalidateProject(ctx context.Context, projectID string) {
	if r.cache == nil {
		return
	}
	pattern := "mnemo:search:" + projectID + "|*"
	iter := r.cache.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		r.cache.Del(ctx, iter.Val())
	}
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
