// Package core defines the domain types shared by every component of the
// memory service: conversations, messages, memory units, embeddings, and
// the ephemeral search result shape returned by the retriever.
package core

import "time"

// ConversationStatus is the lifecycle state of a Conversation.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationArchived  ConversationStatus = "archived"
)

// MessageType identifies the speaker of a Message.
type MessageType string

const (
	MessageHuman     MessageType = "human"
	MessageAssistant MessageType = "assistant"
	MessageSystem    MessageType = "system"
	MessageTool      MessageType = "tool"
)

// UnitType classifies a MemoryUnit by how it was produced.
type UnitType string

const (
	UnitConversation UnitType = "conversation"
	UnitDocumentation UnitType = "documentation"
	UnitArchive      UnitType = "archive"
	UnitSynthetic    UnitType = "synthetic"
)

// MatchType records which retrieval leg produced a SearchResult.
type MatchType string

const (
	MatchSemantic MatchType = "semantic"
	MatchKeyword  MatchType = "keyword"
	MatchHybrid   MatchType = "hybrid"
)

// GlobalProject is the reserved project tag meaning "shared across all
// projects". Project tags are informational labels, never a security
// boundary: the store must accept writes for any tag, known or not.
const GlobalProject = "global"

// Conversation is a full exchange between a human and the assistant.
type Conversation struct {
	ID             string             `json:"id"`
	ProjectID      string             `json:"project_id"`
	SessionID      string             `json:"session_id,omitempty"`
	Title          string             `json:"title,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	MessageCount   int                `json:"message_count"`
	TokenCount     int                `json:"token_count"`
	Status         ConversationStatus `json:"status"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
	Messages       []Message          `json:"messages,omitempty"`
}

// Message is one turn within a Conversation.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Type           MessageType    `json:"type"`
	Content        string         `json:"content"`
	Timestamp      time.Time      `json:"timestamp"`
	TokenCount     int            `json:"token_count"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MemoryUnit is the atomic record this system stores, retrieves, and
// injects — distilled from one conversation by the compressor.
type MemoryUnit struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	ProjectID      string         `json:"project_id"`
	UnitType       UnitType       `json:"unit_type"`
	Title          string         `json:"title"`
	Summary        string         `json:"summary"`
	Content        string         `json:"content"`
	Keywords       []string       `json:"keywords,omitempty"`
	RelevanceScore float64        `json:"relevance_score"`
	TokenCount     int            `json:"token_count"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	IsActive       bool           `json:"is_active"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Embedding records which vector exists for a MemoryUnit and under which
// model — the vector itself lives only in the vector index.
type Embedding struct {
	MemoryUnitID string    `json:"memory_unit_id"`
	ModelName    string    `json:"model_name"`
	Dimension    int       `json:"dimension"`
	CreatedAt    time.Time `json:"created_at"`
}

// SearchResult is the ephemeral shape returned by the retriever.
type SearchResult struct {
	MemoryUnit      MemoryUnit     `json:"memory_unit"`
	RelevanceScore  float64        `json:"relevance_score"`
	RerankScore     *float64       `json:"rerank_score,omitempty"`
	MatchType       MatchType      `json:"match_type"`
	MatchedKeywords []string       `json:"matched_keywords,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// SearchQuery is the input to the retriever.
type SearchQuery struct {
	Text      string  `json:"text"`
	QueryType string  `json:"query_type,omitempty"` // semantic | keyword | hybrid
	Limit     int     `json:"limit"`
	MinScore  float64 `json:"min_score"`
	ProjectID string  `json:"project_id,omitempty"`
	Context   string  `json:"context,omitempty"`
}

// ContextInjectionRequest is the input to the injector.
type ContextInjectionRequest struct {
	OriginalPrompt string `json:"original_prompt"`
	QueryText      string `json:"query_text,omitempty"`
	InjectionMode  string `json:"injection_mode,omitempty"` // minimal | balanced | comprehensive
	MaxTokens      int    `json:"max_tokens,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
}

// ContextInjectionResult is the output of the injector.
type ContextInjectionResult struct {
	EnhancedPrompt   string           `json:"enhanced_prompt"`
	InjectedMemories []InjectedMemory `json:"injected_memories"`
	TokensUsed       int              `json:"tokens_used"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	Warnings         []string         `json:"warnings,omitempty"`
}

// InjectedMemory is the trimmed memory-unit projection returned alongside
// an injection result.
type InjectedMemory struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// StoreConversationResult is the output of store_conversation.
type StoreConversationResult struct {
	MemoryUnitIDs []string `json:"memory_unit_ids"`
	Warnings      []string `json:"warnings,omitempty"`
}

// ComponentHealth is the health state of a component.
type ComponentHealth string

const (
	HealthOK       ComponentHealth = "ok"
	HealthDegraded ComponentHealth = "degraded"
	HealthDown     ComponentHealth = "down"
)

// Status is the output of the orchestrator's status() operation.
type Status struct {
	UptimeSeconds   float64                    `json:"uptime_s"`
	Counters        Counters                   `json:"counters"`
	ComponentHealth map[string]ComponentHealth `json:"component_health"`
}

// Counters are the coarse operation counts reported by status().
type Counters struct {
	ConversationsProcessed int64 `json:"conversations_processed"`
	MemoriesCreated        int64 `json:"memories_created"`
	Searches               int64 `json:"searches"`
	Injections             int64 `json:"injections"`
}
