package compressor

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
	responses []string
	calls     int
	err       error
}

func (f *fakeCompleter) Complete(ctx context.Context, model string, messages []gateway.Message, params gateway.CompleteParams) (string, gateway.Usage, error) {
	defer func() { f.calls++ }()
	if f.err != nil {
		return "", gateway.Usage{}, f.err
	}
	if f.calls >= len(f.responses) {
		return f.responses[len(f.responses)-1], gateway.Usage{}, nil
	}
	return f.responses[f.calls], gateway.Usage{}, nil
}

func newTestGatewayWithCompleter(c gateway.Completer) *gateway.Gateway {
	gw := gateway.New(zerolog.Nop(), nil, 4)
	gw.RegisterProvider("p1", 2, nil, nil, nil, c)
	gw.SetCompleteChain("heavy", []gateway.ChainEntry{{Model: "m1", Provider: "p1"}})
	return gw
}

func conversationFixture() core.Conversation {
	now := time.Now().UTC()
	return core.Conversation{
		ID:        "conv-1",
		ProjectID: "p1",
		StartedAt: now,
		Messages: []core.Message{
			{ID: "m1", ConversationID: "conv-1", Type: core.MessageHuman, Content: "How do I implement a singleton in Python?", Timestamp: now},
			{ID: "m2", ConversationID: "conv-1", Type: core.MessageAssistant, Content: "To implement a singleton in Python use a metaclass or __new__", Timestamp: now},
		},
	}
}

func TestCompressParsesValidJSON(t *testing.T) {
	gw := newTestGatewayWithCompleter(&fakeCompleter{responses: []string{
		`{"title": "Python singleton", "summary": "Discusses singleton patterns", "keywords": ["Python", "python", "Singleton"], "importance": 0.7}`,
	}})
	c := New(gw, zerolog.Nop(), 4)

	units, warnings, err := c.Compress(context.Background(), conversationFixture())
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Empty(t, warnings)
	assert.Equal(t, "Python singleton", units[0].Title)
	assert.Equal(t, []string{"python", "singleton"}, units[0].Keywords)
	assert.InDelta(t, 0.7, units[0].RelevanceScore, 1e-9)
	assert.True(t, units[0].IsActive)
}

func TestCompressDegradesOnInvalidJSONAfterRetries(t *testing.T) {
	gw := newTestGatewayWithCompleter(&fakeCompleter{responses: []string{"not json", "still not json", "nope"}})
	c := New(gw, zerolog.Nop(), 4)

	units, warnings, err := c.Compress(context.Background(), conversationFixture())
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Contains(t, warnings, "compression_degraded")
	assert.Contains(t, units[0].Title, "Conversation ")
	assert.Empty(t, units[0].Keywords)
	assert.InDelta(t, 0.3, units[0].RelevanceScore, 1e-9)
}

func TestCompressParsesFencedJSON(t *testing.T) {
	gw := newTestGatewayWithCompleter(&fakeCompleter{responses: []string{
		"```json\n{\"title\": \"T\", \"summary\": \"S\", \"keywords\": [], \"importance\": 0.5}\n```",
	}})
	c := New(gw, zerolog.Nop(), 4)

	units, _, err := c.Compress(context.Background(), conversationFixture())
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "T", units[0].Title)
}

func TestCompressEmitsSegmentUnits(t *testing.T) {
	gw := newTestGatewayWithCompleter(&fakeCompleter{responses: []string{
		`{"title": "T", "summary": "S", "keywords": [], "importance": 0.5, "segments": [{"title": "Part 1", "start_index": 0, "end_index": 1}]}`,
	}})
	c := New(gw, zerolog.Nop(), 4)

	units, _, err := c.Compress(context.Background(), conversationFixture())
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "Part 1", units[1].Title)
	assert.Equal(t, core.UnitSynthetic, units[1].UnitType)
}

func TestCompressTruncatesLongConversation(t *testing.T) {
	gw := newTestGatewayWithCompleter(&fakeCompleter{responses: []string{
		`{"title": "T", "summary": "S", "keywords": [], "importance": 0.5}`,
	}})
	c := New(gw, zerolog.Nop(), 4)
	c.maxTokens = 10 // force truncation; the 22 messages also exceed the 6+6 kept at the ends

	conv := conversationFixture()
	for i := 0; i < 20; i++ {
		conv.Messages = append(conv.Messages, core.Message{Type: core.MessageHuman, Content: "filler message content here"})
	}

	units, warnings, err := c.Compress(context.Background(), conv)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Contains(t, warnings, "conversation_truncated")
	assert.Contains(t, units[0].Content, truncationMarker)
}

func TestClassifyUnitTypeMarksDocumentation(t *testing.T) {
	var sb string
	for i := 0; i < 500; i++ {
		sb += "word "
	}
	conv := core.Conversation{Messages: []core.Message{
		{Type: core.MessageHuman, Content: "explain metaclasses"},
		{Type: core.MessageAssistant, Content: sb},
	}}
	assert.Equal(t, core.UnitDocumentation, classifyUnitType(conv))
}

func TestClassifyUnitTypeDefaultsToConversation(t *testing.T) {
	assert.Equal(t, core.UnitConversation, classifyUnitType(conversationFixture()))
}
