package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mnemo/internal/core"
)

type storeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type storeConversationRequest struct {
	ProjectID string            `json:"project_id"`
	Title     string            `json:"title,omitempty"`
	Messages  []storeMessage    `json:"messages"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
}

type storeConversationResponse struct {
	ConversationID string   `json:"conversation_id"`
	MemoryUnitIDs  []string `json:"memory_unit_ids"`
	Warnings       []string `json:"warnings,omitempty"`
}

func (s *Server) handleStoreConversation(w http.ResponseWriter, r *http.Request) {
	var req storeConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, &core.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	now := time.Now().UTC()
	conv := core.Conversation{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		SessionID: req.SessionID,
		Title:     req.Title,
		StartedAt: now,
		Metadata:  req.Metadata,
	}
	for _, m := range req.Messages {
		conv.Messages = append(conv.Messages, core.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Type:           messageTypeFromRole(m.Role),
			Content:        m.Content,
			Timestamp:      now,
		})
	}

	result, err := s.orch.StoreConversation(r.Context(), conv)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, storeConversationResponse{
		ConversationID: conv.ID,
		MemoryUnitIDs:  result.MemoryUnitIDs,
		Warnings:       result.Warnings,
	})
}

func messageTypeFromRole(role string) core.MessageType {
	switch role {
	case "assistant":
		return core.MessageAssistant
	case "system":
		return core.MessageSystem
	case "tool":
		return core.MessageTool
	default:
		return core.MessageHuman
	}
}

type searchRequest struct {
	Query     string   `json:"query"`
	ProjectID string   `json:"project_id,omitempty"`
	Limit     *int     `json:"limit,omitempty"`
	MinScore  *float64 `json:"min_score,omitempty"`
	QueryType string   `json:"query_type,omitempty"`
}

type searchResultDTO struct {
	MemoryUnitID    string   `json:"memory_unit_id"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	RelevanceScore  float64  `json:"relevance_score"`
	RerankScore     *float64 `json:"rerank_score,omitempty"`
	MatchType       string   `json:"match_type"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

type searchResponse struct {
	Results      []searchResultDTO `json:"results"`
	TotalCount   int               `json:"total_count"`
	SearchTimeMs int64             `json:"search_time_ms"`
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, &core.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	start := time.Now()
	limit := 5
	if req.Limit != nil {
		limit = *req.Limit
	}
	minScore := 0.3
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	results, err := s.orch.SearchMemories(r.Context(), core.SearchQuery{
		Text:      req.Query,
		QueryType: req.QueryType,
		Limit:     limit,
		MinScore:  minScore,
		ProjectID: req.ProjectID,
	}, req.ProjectID)
	if err != nil {
		respondErr(w, err)
		return
	}

	dtos := make([]searchResultDTO, len(results))
	for i, res := range results {
		dtos[i] = searchResultDTO{
			MemoryUnitID:    res.MemoryUnit.ID,
			Title:           res.MemoryUnit.Title,
			Summary:         res.MemoryUnit.Summary,
			RelevanceScore:  res.RelevanceScore,
			RerankScore:     res.RerankScore,
			MatchType:       string(res.MatchType),
			MatchedKeywords: res.MatchedKeywords,
		}
	}
	respondJSON(w, http.StatusOK, searchResponse{
		Results:      dtos,
		TotalCount:   len(dtos),
		SearchTimeMs: time.Since(start).Milliseconds(),
	})
}

type injectRequest struct {
	OriginalPrompt string `json:"original_prompt"`
	QueryText      string `json:"query_text,omitempty"`
	InjectionMode  string `json:"injection_mode,omitempty"`
	MaxTokens      int    `json:"max_tokens,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
}

type injectedMemoryDTO struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type injectResponse struct {
	Success          bool                `json:"success"`
	EnhancedPrompt   string              `json:"enhanced_prompt"`
	InjectedMemories []injectedMemoryDTO `json:"injected_memories"`
	TokensUsed       int                 `json:"tokens_used"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
	Warnings         []string            `json:"warnings,omitempty"`
}

func (s *Server) handleInjectContext(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, &core.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	result, err := s.orch.InjectContext(r.Context(), core.ContextInjectionRequest{
		OriginalPrompt: req.OriginalPrompt,
		QueryText:      req.QueryText,
		InjectionMode:  req.InjectionMode,
		MaxTokens:      req.MaxTokens,
		ProjectID:      req.ProjectID,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	memories := make([]injectedMemoryDTO, len(result.InjectedMemories))
	for i, m := range result.InjectedMemories {
		memories[i] = injectedMemoryDTO{ID: m.ID, Title: m.Title, Summary: m.Summary}
	}
	respondJSON(w, http.StatusOK, injectResponse{
		Success:          true,
		EnhancedPrompt:   result.EnhancedPrompt,
		InjectedMemories: memories,
		TokensUsed:       result.TokensUsed,
		ProcessingTimeMs: result.ProcessingTimeMs,
		Warnings:         result.Warnings,
	})
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]core.ComponentHealth `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.orch.Status(r.Context())
	overall := "ok"
	for _, h := range status.ComponentHealth {
		if h == core.HealthDown {
			overall = "down"
			break
		}
		if h == core.HealthDegraded {
			overall = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, healthResponse{Status: overall, Components: status.ComponentHealth})
}
