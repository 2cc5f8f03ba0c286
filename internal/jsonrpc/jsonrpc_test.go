package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/compressor"
	"mnemo/internal/config"
	"mnemo/internal/corectx"
	"mnemo/internal/fuser"
	"mnemo/internal/gateway"
	"mnemo/internal/injector"
	"mnemo/internal/orchestrator"
	"mnemo/internal/retriever"
	"mnemo/internal/store"
	"mnemo/internal/vectorindex"
)

type fakeModel struct{ dim int }

func (f *fakeModel) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float64, gateway.Usage, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		v := make([]float64, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, gateway.Usage{}, nil
}

func (f *fakeModel) Complete(ctx context.Context, model string, messages []gateway.Message, params gateway.CompleteParams) (string, gateway.Usage, error) {
	return `{"title": "Singleton pattern", "summary": "Use a metaclass.", "keywords": ["python"], "importance": 0.6}`, gateway.Usage{}, nil
}

func buildTestServer(t *testing.T, in *bytes.Buffer, out *bytes.Buffer) *Server {
	t.Helper()
	fm := &fakeModel{dim: 3}
	gw := gateway.New(zerolog.Nop(), nil, fm.dim)
	gw.RegisterProvider("fake", 4, nil, fm, nil, fm)
	gw.SetEmbedChain([]gateway.ChainEntry{{Model: "embed-1", Provider: "fake"}})
	gw.SetCompleteChain("heavy", []gateway.ChainEntry{{Model: "heavy-1", Provider: "fake"}})
	gw.SetCompleteChain("light", []gateway.ChainEntry{{Model: "light-1", Provider: "fake"}})

	st := store.NewMemoryStore()
	idx := vectorindex.NewMemoryIndex(fm.dim)
	r := retriever.New(gw, st, idx, nil, false, time.Minute, zerolog.Nop())
	f := fuser.New(gw, zerolog.Nop(), "light")
	inj := injector.New(r, f, zerolog.Nop())
	comp := compressor.New(gw, zerolog.Nop(), 4)

	cc := &corectx.CoreContext{
		Config: config.Default(), Log: zerolog.Nop(),
		Store: st, VectorIndex: idx, Gateway: gw,
		Compressor: comp, Retriever: r, Fuser: f, Injector: inj,
	}
	orch := orchestrator.New(cc)
	return NewServer(orch, zerolog.Nop(), in, out)
}

func readLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		lines = append(lines, m)
	}
	return lines
}

func TestRunEmitsInitializedNotificationFirst(t *testing.T) {
	in := bytes.NewBufferString("")
	out := &bytes.Buffer{}
	s := buildTestServer(t, in, out)
	require.NoError(t, s.Run(context.Background()))

	lines := readLines(t, out)
	require.Len(t, lines, 1)
	assert.Equal(t, "notifications/initialized", lines[0]["method"])
}

func TestInitializeMethod(t *testing.T) {
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n")
	out := &bytes.Buffer{}
	s := buildTestServer(t, in, out)
	require.NoError(t, s.Run(context.Background()))

	lines := readLines(t, out)
	require.Len(t, lines, 2)
	result := lines[1]["result"].(map[string]any)
	assert.Equal(t, protocolVersion, result["protocolVersion"])
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"bogus"}` + "\n")
	out := &bytes.Buffer{}
	s := buildTestServer(t, in, out)
	require.NoError(t, s.Run(context.Background()))

	lines := readLines(t, out)
	require.Len(t, lines, 2)
	errObj := lines[1]["error"].(map[string]any)
	assert.Equal(t, float64(codeMethodNotFound), errObj["code"])
}

func TestParseErrorReturnsParseErrorCode(t *testing.T) {
	in := bytes.NewBufferString("not json\n")
	out := &bytes.Buffer{}
	s := buildTestServer(t, in, out)
	require.NoError(t, s.Run(context.Background()))

	lines := readLines(t, out)
	require.Len(t, lines, 2)
	errObj := lines[1]["error"].(map[string]any)
	assert.Equal(t, float64(codeParseError), errObj["code"])
}

func TestToolsListIncludesRequiredTools(t *testing.T) {
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	out := &bytes.Buffer{}
	s := buildTestServer(t, in, out)
	require.NoError(t, s.Run(context.Background()))

	lines := readLines(t, out)
	tools := lines[1]["result"].(map[string]any)["tools"].([]any)
	names := map[string]bool{}
	for _, tl := range tools {
		names[tl.(map[string]any)["name"].(string)] = true
	}
	for _, want := range []string{"memory_search", "memory_inject", "memory_status", "memory_health"} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestToolsCallMemoryStatus(t *testing.T) {
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"memory_status","arguments":{}}}` + "\n")
	out := &bytes.Buffer{}
	s := buildTestServer(t, in, out)
	require.NoError(t, s.Run(context.Background()))

	lines := readLines(t, out)
	result := lines[1]["result"].(map[string]any)
	content := result["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "text", content["type"])
	assert.Contains(t, content["text"], "uptime")
}
