package fuser

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/core"
	"mnemo/internal/gateway"
)

type fakeCompleter struct {
	text string
	err  error
}

func (f *fakeCompleter) Complete(ctx context.Context, model string, messages []gateway.Message, params gateway.CompleteParams) (string, gateway.Usage, error) {
	if f.err != nil {
		return "", gateway.Usage{}, f.err
	}
	return f.text, gateway.Usage{}, nil
}

func gatewayWithCompleter(t *testing.T, c gateway.Completer) *gateway.Gateway {
	t.Helper()
	gw := gateway.New(zerolog.Nop(), nil, 4)
	gw.RegisterProvider("p1", 2, nil, nil, nil, c)
	gw.SetCompleteChain("light", []gateway.ChainEntry{{Model: "m1", Provider: "p1"}})
	return gw
}

func unitsFixture() []core.MemoryUnit {
	now := time.Now().UTC()
	return []core.MemoryUnit{
		{ID: "u1", Title: "Qdrant tuning", Summary: "Use HNSW m=16 for balanced recall.", CreatedAt: now},
		{ID: "u2", Title: "Python singleton", Summary: "Use a metaclass or __new__.", CreatedAt: now},
	}
}

func TestFuseEmptyUnitsReturnsEmptyResult(t *testing.T) {
	gw := gatewayWithCompleter(t, &fakeCompleter{text: "x"})
	f := New(gw, zerolog.Nop(), "light")
	res, err := f.Fuse(context.Background(), "q", nil, 100, ModeLLM)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestFuseLLMModeReturnsAllSourceUnits(t *testing.T) {
	gw := gatewayWithCompleter(t, &fakeCompleter{text: "Briefing text."})
	f := New(gw, zerolog.Nop(), "light")
	res, err := f.Fuse(context.Background(), "vector db tuning", unitsFixture(), 200, ModeLLM)
	require.NoError(t, err)
	assert.Equal(t, "Briefing text.", res.Block)
	assert.Equal(t, []string{"u1", "u2"}, res.SourceUnits)
}

func TestFuseLLMFailureDegradesToDirect(t *testing.T) {
	gw := gatewayWithCompleter(t, &fakeCompleter{err: assert.AnError})
	f := New(gw, zerolog.Nop(), "light")
	res, err := f.Fuse(context.Background(), "q", unitsFixture(), 200, ModeLLM)
	require.NoError(t, err)
	assert.Contains(t, res.Block, "[1] Qdrant tuning")
	assert.Contains(t, res.Block, "[2] Python singleton")
	assert.Equal(t, []string{"u1", "u2"}, res.SourceUnits)
}

func TestFuseDirectModeStopsAtBudget(t *testing.T) {
	gw := gatewayWithCompleter(t, &fakeCompleter{text: "unused"})
	f := New(gw, zerolog.Nop(), "light")
	res, err := f.Fuse(context.Background(), "q", unitsFixture(), 20, ModeDirect)
	require.NoError(t, err)
	assert.Len(t, res.SourceUnits, 1)
	assert.Equal(t, []string{"u1"}, res.SourceUnits)
}
