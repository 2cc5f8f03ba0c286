// Package fuser implements the Memory Fuser (C6): it takes an ordered
// list of memory units and a token budget and produces a single prose
// block, either by direct concatenation or by asking a completion model
// for a concise briefing, always reporting exactly the source unit ids
// it actually incorporated. Grounded on the teacher's prompt-assembly
// helpers in internal/llm and its fixed degrade-to-simpler-mode pattern
// on completion failure.
package fuser

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"mnemo/internal/core"
	"mnemo/internal/gateway"
	"mnemo/internal/util"
)

// Mode selects how the fuser turns units into prose.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeLLM    Mode = "llm"
)

// Fuser is the Memory Fuser (C6).
type Fuser struct {
	gw          *gateway.Gateway
	log         zerolog.Logger
	completeFor string
}

// New builds a Fuser that calls the gateway's named completion chain
// (typically "light") when operating in llm mode.
func New(gw *gateway.Gateway, log zerolog.Logger, completeFor string) *Fuser {
	return &Fuser{gw: gw, log: log, completeFor: completeFor}
}

// Result is the fuser's output.
type Result struct {
	Block       string
	SourceUnits []string
	Degraded    bool
}

// Fuse produces a single text block summarizing units, bounded by
// budget tokens.
func (f *Fuser) Fuse(ctx context.Context, query string, units []core.MemoryUnit, budget int, mode Mode) (Result, error) {
	if len(units) == 0 {
		return Result{}, nil
	}
	if mode == "" {
		mode = ModeLLM
	}
	if mode == ModeLLM {
		if res, ok := f.fuseWithLLM(ctx, query, units, budget); ok {
			return res, nil
		}
	}
	return f.fuseDirect(units, budget), nil
}

// fuseDirect concatenates "[i] title — summary" blocks, stopping before
// the running token estimate would exceed budget. source_units is
// exactly the prefix it consumed, never more.
func (f *Fuser) fuseDirect(units []core.MemoryUnit, budget int) Result {
	var sb strings.Builder
	var ids []string
	for i, u := range units {
		entry := fmt.Sprintf("[%d] %s — %s", i+1, u.Title, u.Summary)
		candidate := sb.String()
		if candidate != "" {
			candidate += "\n\n"
		}
		candidate += entry
		if util.EstimateTokens(candidate) > budget {
			break
		}
		sb.Reset()
		sb.WriteString(candidate)
		ids = append(ids, u.ID)
	}
	return Result{Block: sb.String(), SourceUnits: ids}
}

// fuseWithLLM asks the completion model for a concise briefing over all
// given units. It never hallucinates ids: source_units is exactly the
// set of units included in the prompt, since the model was told about
// no others. A completion failure returns ok=false so the caller
// degrades to direct mode.
func (f *Fuser) fuseWithLLM(ctx context.Context, query string, units []core.MemoryUnit, budget int) (Result, bool) {
	ids := make([]string, len(units))
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Given the query %q and the following memories, produce a concise briefing under %d tokens that a coding assistant can use as background context. Do not invent facts not present below.\n\n", query, budget))
	for i, u := range units {
		ids[i] = u.ID
		sb.WriteString(fmt.Sprintf("Memory %d — %s: %s\n", i+1, u.Title, u.Summary))
	}

	text, err := f.gw.Complete(ctx, f.completeFor, []gateway.Message{
		{Role: "system", Content: "You write terse background briefings from prior memory records. Output only the briefing text."},
		{Role: "user", Content: sb.String()},
	}, gateway.CompleteParams{MaxTokens: budget, Temperature: 0.3})
	if err != nil {
		f.log.Warn().Err(err).Msg("fuser: llm fusion failed, degrading to direct mode")
		return Result{}, false
	}
	text = util.TruncateTailToTokens(strings.TrimSpace(text), budget)
	return Result{Block: text, SourceUnits: ids}, true
}
