package server

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	VectorStore string `json:"vectorstore"`
	Version     string `json:"version,omitempty"`
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	TotalItems   int            `json:"total_items"`
	TotalChunks  int            `json:"total_chunks"`
	ByCollection map[string]int `json:"by_collection"`
	ByType       map[string]int `json:"by_type"`
	BySource     map[string]int `json:"by_source"`
	Degraded     bool           `json:"degraded"`
}

// SearchRequest is the request body for POST /api/v1/search.
//
// Blend selects the multi-strategy mode: every applicable ranking strategy
// runs and the results are merged. The default runs only the single
// highest-priority strategy.
type SearchRequest struct {
	Query        string    `json:"query"`
	Types        []string  `json:"types,omitempty"`
	Sources      []string  `json:"sources,omitempty"`
	ProjectID    string    `json:"project_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	TaskID       string    `json:"task_id,omitempty"`
	ChatID       string    `json:"chat_id,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	MinRelevance float64   `json:"min_relevance,omitempty"`
	MinPriority  string    `json:"min_priority,omitempty"`
	Since        time.Time `json:"since,omitempty"`
	Until        time.Time `json:"until,omitempty"`
	MaxResults   int       `json:"max_results,omitempty"`
	Blend        bool      `json:"blend,omitempty"`
}

// toQuery converts the request into a retrieval query, validating the
// type and source names.
func (r *SearchRequest) toQuery() (*memory.Query, error) {
	q := &memory.Query{
		Text:         r.Query,
		ProjectID:    r.ProjectID,
		SessionID:    r.SessionID,
		TaskID:       r.TaskID,
		ChatID:       r.ChatID,
		Tags:         r.Tags,
		MinRelevance: r.MinRelevance,
		Since:        r.Since,
		Until:        r.Until,
		MaxResults:   r.MaxResults,
	}
	for _, name := range r.Types {
		t := memory.ItemType(name)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown item type: %q", name)
		}
		q.Types = append(q.Types, t)
	}
	for _, name := range r.Sources {
		s := memory.ItemSource(name)
		if !s.Valid() {
			return nil, fmt.Errorf("unknown item source: %q", name)
		}
		q.Sources = append(q.Sources, s)
	}
	if r.MinPriority != "" {
		q.MinPriority = memory.ParsePriority(r.MinPriority)
	}
	return q, nil
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Items        []ItemDTO `json:"items"`
	TotalCount   int       `json:"total_count"`
	Strategy     string    `json:"strategy"`
	SearchTimeMS int64     `json:"search_time_ms"`
}

// ItemDTO is the wire form of a context item.
type ItemDTO struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Source         string         `json:"source"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	RelevanceScore float64        `json:"relevance_score"`
	Priority       string         `json:"priority"`
	Timestamp      time.Time      `json:"timestamp"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	ProjectID      string         `json:"project_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	TaskID         string         `json:"task_id,omitempty"`
	ChatID         string         `json:"chat_id,omitempty"`
}

// itemToDTO converts a context item to its wire form.
func itemToDTO(item *memory.ContextItem) ItemDTO {
	dto := ItemDTO{
		ID:             item.ID,
		Type:           string(item.Type),
		Source:         string(item.Source),
		Content:        item.Content,
		Metadata:       item.Metadata,
		RelevanceScore: item.RelevanceScore,
		Priority:       item.Priority.String(),
		Timestamp:      item.Timestamp,
		Tags:           item.Tags,
		ProjectID:      item.ProjectID,
		SessionID:      item.SessionID,
		TaskID:         item.TaskID,
		ChatID:         item.ChatID,
	}
	if !item.ExpiresAt.IsZero() {
		exp := item.ExpiresAt
		dto.ExpiresAt = &exp
	}
	return dto
}

// CreateItemRequest is the request body for POST /api/v1/items.
//
// TTL is an optional Go duration string ("30m", "24h"); when set the item
// expires that long after creation.
type CreateItemRequest struct {
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Priority  string         `json:"priority,omitempty"`
	TTL       string         `json:"ttl,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	ChatID    string         `json:"chat_id,omitempty"`
}

// CreateItemResponse is the response body for POST /api/v1/items.
type CreateItemResponse struct {
	ID string `json:"id"`
}

// CleanupResponse is the response body for POST /api/v1/cleanup.
type CleanupResponse struct {
	ChunksRemoved int `json:"chunks_removed"`
}
