// Package compressor implements the Semantic Compressor (C4): it turns a
// Conversation into one or more MemoryUnits via an LLM prompt, validates
// the model's JSON against a fixed schema, and degrades to a synthetic
// unit when the model never produces valid JSON. Grounded on the
// teacher's JSON-schema-validated LLM call sites (internal/llm clients'
// structured-output helpers) and the Design Notes' `Parsed | Retry |
// Degrade` tagged-result strategy.
package compressor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mnemo/internal/core"
	"mnemo/internal/gateway"
	"mnemo/internal/util"
)

const (
	defaultMaxConversationTokens = 8000
	defaultRetries               = 2
	defaultKeepFirst             = 6
	defaultKeepLast              = 6
	documentationMinTokens       = 400
	maxKeywords                  = 32
	truncationMarker             = "... [conversation truncated for length] ..."
)

// segment is the optional per-slice unit the model may emit alongside
// the conversation-level title/summary.
type segment struct {
	Title      string `json:"title"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// compressionOutput is the strict JSON shape the prompt contract
// requires from the completion model.
type compressionOutput struct {
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	Keywords   []string  `json:"keywords"`
	Importance float64   `json:"importance"`
	Segments   []segment `json:"segments,omitempty"`
}

// resultKind tags how a Compress call's output was produced, following
// the Design Notes' `Parsed | Retry | Degrade` strategy instead of
// exception-driven control flow.
type resultKind string

const (
	kindParsed  resultKind = "parsed"
	kindDegrade resultKind = "degrade"
)

// Compressor is the Semantic Compressor (C4).
type Compressor struct {
	gw           *gateway.Gateway
	log          zerolog.Logger
	limiter      *util.Limiter
	maxTokens    int
	retries      int
	completeFor  string // "heavy" purpose key in the gateway's complete chains
}

// New builds a Compressor bounded by inflight, calling the gateway's
// "heavy" completion chain by default.
func New(gw *gateway.Gateway, log zerolog.Logger, inflight int) *Compressor {
	return &Compressor{
		gw:          gw,
		log:         log,
		limiter:     util.NewLimiter(inflight),
		maxTokens:   defaultMaxConversationTokens,
		retries:     defaultRetries,
		completeFor: "heavy",
	}
}

// Compress turns conv into one or more MemoryUnits. It never returns an
// error for a well-shaped conversation: a completion/parse failure
// degrades to a synthetic unit rather than propagating.
func (c *Compressor) Compress(ctx context.Context, conv core.Conversation) ([]core.MemoryUnit, []string, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer c.limiter.Release()

	now := time.Now().UTC()
	transcript, truncated := c.buildTranscript(conv)

	out, kind := c.runWithRetries(ctx, conv, transcript)

	var warnings []string
	if kind == kindDegrade {
		warnings = append(warnings, "compression_degraded")
	}
	if truncated {
		warnings = append(warnings, "conversation_truncated")
	}

	units := c.toMemoryUnits(conv, transcript, out, now)
	return units, warnings, nil
}

// runWithRetries calls the completion model up to c.retries+1 times,
// tightening the system prompt on each retry, and falls back to a
// synthesized degraded output on final failure.
func (c *Compressor) runWithRetries(ctx context.Context, conv core.Conversation, transcript string) (compressionOutput, resultKind) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		text, err := c.gw.Complete(ctx, c.completeFor, c.buildMessages(transcript, attempt), gateway.CompleteParams{MaxTokens: 1024, Temperature: 0.2})
		if err != nil {
			lastErr = err
			continue
		}
		out, parseErr := parseCompressionOutput(text)
		if parseErr == nil {
			return out, kindParsed
		}
		lastErr = parseErr
	}
	c.log.Warn().Err(lastErr).Str("conversation_id", conv.ID).Msg("compressor: falling back to degraded unit")
	return c.degradedOutput(conv), kindDegrade
}

func (c *Compressor) buildMessages(transcript string, attempt int) []gateway.Message {
	system := "You distill a coding-assistant conversation into a JSON memory record. " +
		"Respond with exactly one JSON object: {\"title\": string, \"summary\": string, " +
		"\"keywords\": [string], \"importance\": number between 0 and 1, \"segments\": " +
		"optional array of {\"title\": string, \"start_index\": int, \"end_index\": int}}. " +
		"No prose outside the JSON object."
	if attempt > 0 {
		system += " Your previous response was not valid JSON. Output ONLY the JSON object, " +
			"with no markdown fences, no commentary, and no trailing text."
	}
	return []gateway.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: transcript},
	}
}

func parseCompressionOutput(text string) (compressionOutput, error) {
	text = stripCodeFences(strings.TrimSpace(text))
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return compressionOutput{}, fmt.Errorf("compressor: no JSON object found in completion")
	}
	var out compressionOutput
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return compressionOutput{}, fmt.Errorf("compressor: invalid JSON: %w", err)
	}
	if strings.TrimSpace(out.Title) == "" || strings.TrimSpace(out.Summary) == "" {
		return compressionOutput{}, fmt.Errorf("compressor: missing required field title/summary")
	}
	if out.Importance < 0 || out.Importance > 1 {
		return compressionOutput{}, fmt.Errorf("compressor: importance %f out of range", out.Importance)
	}
	return out, nil
}

func stripCodeFences(text string) string {
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// degradedOutput synthesizes the fallback unit the spec pins exactly:
// title "Conversation <first 40 chars>", summary a truncation of the
// concatenated messages, empty keywords, importance 0.3.
func (c *Compressor) degradedOutput(conv core.Conversation) compressionOutput {
	var sb strings.Builder
	for _, m := range conv.Messages {
		sb.WriteString(m.Content)
		sb.WriteString(" ")
	}
	joined := strings.TrimSpace(sb.String())
	title := joined
	if len(title) > 40 {
		title = title[:40]
	}
	summary := joined
	if len(summary) > 2000 {
		summary = summary[:2000]
	}
	return compressionOutput{
		Title:      "Conversation " + title,
		Summary:    summary,
		Keywords:   nil,
		Importance: 0.3,
	}
}

// buildTranscript renders the conversation's messages and, when the
// estimated token count exceeds c.maxTokens, truncates by keeping the
// first k and last m messages with a marker message between them.
func (c *Compressor) buildTranscript(conv core.Conversation) (string, bool) {
	full := renderMessages(conv.Messages)
	if util.EstimateTokens(full) <= c.maxTokens {
		return full, false
	}
	msgs := conv.Messages
	if len(msgs) <= defaultKeepFirst+defaultKeepLast {
		return full, false
	}
	head := msgs[:defaultKeepFirst]
	tail := msgs[len(msgs)-defaultKeepLast:]
	var sb strings.Builder
	sb.WriteString(renderMessages(head))
	sb.WriteString("\n")
	sb.WriteString(truncationMarker)
	sb.WriteString("\n")
	sb.WriteString(renderMessages(tail))
	return sb.String(), true
}

func renderMessages(msgs []core.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(string(m.Type))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// toMemoryUnits assembles the conversation-level unit plus one unit per
// declared segment, normalizing keywords and classifying the unit type.
func (c *Compressor) toMemoryUnits(conv core.Conversation, transcript string, out compressionOutput, now time.Time) []core.MemoryUnit {
	keywords := util.NormalizeKeywords(out.Keywords, maxKeywords)
	unitType := classifyUnitType(conv)

	base := core.MemoryUnit{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		ProjectID:      conv.ProjectID,
		UnitType:       unitType,
		Title:          truncate(out.Title, 200),
		Summary:        truncate(out.Summary, 2000),
		Content:        transcript,
		Keywords:       keywords,
		RelevanceScore: out.Importance,
		TokenCount:     util.EstimateTokens(transcript),
		CreatedAt:      now,
		UpdatedAt:      now,
		IsActive:       true,
	}
	units := []core.MemoryUnit{base}

	for _, seg := range out.Segments {
		content := segmentContent(conv.Messages, seg)
		if content == "" {
			continue
		}
		units = append(units, core.MemoryUnit{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			ProjectID:      conv.ProjectID,
			UnitType:       core.UnitSynthetic,
			Title:          truncate(seg.Title, 200),
			Summary:        truncate(out.Summary, 2000),
			Content:        content,
			Keywords:       keywords,
			RelevanceScore: out.Importance,
			TokenCount:     util.EstimateTokens(content),
			CreatedAt:      now,
			UpdatedAt:      now,
			IsActive:       true,
		})
	}
	return units
}

func segmentContent(msgs []core.Message, seg segment) string {
	if seg.StartIndex < 0 || seg.EndIndex >= len(msgs) || seg.StartIndex > seg.EndIndex {
		return ""
	}
	return renderMessages(msgs[seg.StartIndex : seg.EndIndex+1])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// classifyUnitType marks a conversation as documentation when it is a
// single human/assistant exchange whose assistant turn is long and asks
// few questions back, otherwise conversation.
func classifyUnitType(conv core.Conversation) core.UnitType {
	var humanTurns, assistantTurns int
	var assistantContent string
	for _, m := range conv.Messages {
		switch m.Type {
		case core.MessageHuman:
			humanTurns++
		case core.MessageAssistant:
			assistantTurns++
			assistantContent = m.Content
		}
	}
	if humanTurns != 1 || assistantTurns != 1 {
		return core.UnitConversation
	}
	if util.EstimateTokens(assistantContent) <= documentationMinTokens {
		return core.UnitConversation
	}
	if questionDensity(assistantContent) >= 0.1 {
		return core.UnitConversation
	}
	return core.UnitDocumentation
}

// questionDensity is the fraction of sentence-like segments ending in a
// question mark.
func questionDensity(text string) float64 {
	sentences := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '\n' })
	if len(sentences) == 0 {
		return 0
	}
	questions := 0
	for _, s := range sentences {
		if strings.Contains(s, "?") {
			questions++
		}
	}
	return float64(questions) / float64(len(sentences))
}
