// Package injector implements the Context Injector (C7): it applies the
// injection-mode policy table, runs retrieval then fusion, and merges
// the fused block into the caller's prompt under an overall token
// budget. Grounded on the teacher's request-assembly pipeline pattern
// (retrieve, transform, assemble) in internal/rag.
package injector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mnemo/internal/core"
	"mnemo/internal/fuser"
	"mnemo/internal/retriever"
	"mnemo/internal/util"
)

const separator = "\n\n---\n\n"

// modePolicy is one row of the spec's mode-policy table.
type modePolicy struct {
	retrieveLimit    int
	retrieveMinScore float64
	fuseBudget       int
}

var modePolicies = map[string]modePolicy{
	"minimal":       {retrieveLimit: 3, retrieveMinScore: 0.6, fuseBudget: 400},
	"balanced":      {retrieveLimit: 5, retrieveMinScore: 0.4, fuseBudget: 1500},
	"comprehensive": {retrieveLimit: 10, retrieveMinScore: 0.2, fuseBudget: 4000},
}

// Injector is the Context Injector (C7).
type Injector struct {
	retriever *retriever.Retriever
	fuser     *fuser.Fuser
	log       zerolog.Logger
}

// New builds an Injector over the given Retriever and Fuser.
func New(r *retriever.Retriever, f *fuser.Fuser, log zerolog.Logger) *Injector {
	return &Injector{retriever: r, fuser: f, log: log}
}

// Inject runs C5 → C6 → assembly for req, applying the mode policy
// table and the overall max_tokens budget. Retrieval failure never
// fails the call: it returns the original prompt unchanged with a
// warning, per the spec's "inject_context never fails hard" rule.
func (inj *Injector) Inject(ctx context.Context, req core.ContextInjectionRequest) (result core.ContextInjectionResult, err error) {
	start := time.Now()
	defer func() { result.ProcessingTimeMs = time.Since(start).Milliseconds() }()

	policy, ok := modePolicies[req.InjectionMode]
	if !ok {
		policy = modePolicies["balanced"]
	}
	queryText := req.QueryText
	if queryText == "" {
		queryText = req.OriginalPrompt
	}

	var warnings []string

	results, _, retrieveWarnings, err := inj.retriever.Retrieve(ctx, core.SearchQuery{
		Text:      queryText,
		QueryType: "hybrid",
		Limit:     policy.retrieveLimit,
		MinScore:  policy.retrieveMinScore,
		ProjectID: req.ProjectID,
	})
	warnings = append(warnings, retrieveWarnings...)
	if err != nil {
		inj.log.Warn().Err(err).Msg("injector: retrieval failed, returning original prompt")
		warnings = append(warnings, "retrieval_failed")
		return core.ContextInjectionResult{
			EnhancedPrompt:   req.OriginalPrompt,
			InjectedMemories: []core.InjectedMemory{},
			TokensUsed:       util.EstimateTokens(req.OriginalPrompt),
			Warnings:         warnings,
		}, nil
	}

	if len(results) == 0 {
		return core.ContextInjectionResult{
			EnhancedPrompt:   req.OriginalPrompt,
			InjectedMemories: []core.InjectedMemory{},
			TokensUsed:       util.EstimateTokens(req.OriginalPrompt),
			Warnings:         warnings,
		}, nil
	}

	units := make([]core.MemoryUnit, len(results))
	byID := make(map[string]core.MemoryUnit, len(results))
	for i, r := range results {
		units[i] = r.MemoryUnit
		byID[r.MemoryUnit.ID] = r.MemoryUnit
	}

	fused, err := inj.fuser.Fuse(ctx, queryText, units, policy.fuseBudget, fuser.ModeLLM)
	if err != nil || fused.Block == "" {
		return core.ContextInjectionResult{
			EnhancedPrompt:   req.OriginalPrompt,
			InjectedMemories: []core.InjectedMemory{},
			TokensUsed:       util.EstimateTokens(req.OriginalPrompt),
			Warnings:         warnings,
		}, nil
	}

	enhanced := fmt.Sprintf("%s%s%s", fused.Block, separator, req.OriginalPrompt)
	maxTokens := req.MaxTokens
	if maxTokens > 0 && util.EstimateTokens(enhanced) > maxTokens {
		promptTokens := util.EstimateTokens(req.OriginalPrompt)
		budgetForBlock := maxTokens - promptTokens - util.EstimateTokens(separator)
		if budgetForBlock <= 0 {
			warnings = append(warnings, "max_tokens_too_small")
			return core.ContextInjectionResult{
				EnhancedPrompt:   req.OriginalPrompt,
				InjectedMemories: []core.InjectedMemory{},
				TokensUsed:       promptTokens,
				Warnings:         warnings,
			}, nil
		}
		truncatedBlock := util.TruncateTailToTokens(fused.Block, budgetForBlock)
		enhanced = fmt.Sprintf("%s%s%s", truncatedBlock, separator, req.OriginalPrompt)
	}

	injected := make([]core.InjectedMemory, 0, len(fused.SourceUnits))
	for _, id := range fused.SourceUnits {
		u, ok := byID[id]
		if !ok {
			continue
		}
		injected = append(injected, core.InjectedMemory{ID: u.ID, Title: u.Title, Summary: u.Summary})
	}

	return core.ContextInjectionResult{
		EnhancedPrompt:   enhanced,
		InjectedMemories: injected,
		TokensUsed:       util.EstimateTokens(enhanced),
		Warnings:         warnings,
	}, nil
}
