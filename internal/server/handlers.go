package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// handleHealth reports daemon liveness plus vector store reachability.
// Degradation is reported in the body, not the status code: a daemon
// running on the no-op backend is alive and still answers its API.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:      "ok",
		VectorStore: "ok",
		Version:     s.config.Version,
	}
	if err := s.store.HealthCheck(c.Request().Context()); err != nil {
		resp.Status = "degraded"
		resp.VectorStore = "degraded"
	}
	return c.JSON(http.StatusOK, resp)
}

// handleStats returns item and chunk counts by collection, type and source.
func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "stats unavailable")
	}
	return c.JSON(http.StatusOK, StatsResponse{
		TotalItems:   stats.TotalItems,
		TotalChunks:  stats.TotalChunks,
		ByCollection: stats.ByCollection,
		ByType:       stats.ByType,
		BySource:     stats.BySource,
		Degraded:     stats.Degraded,
	})
}

// handleSearch runs a ranked retrieval query.
func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	q, err := req.toQuery()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	var result *memory.SearchResult
	if req.Blend {
		result, err = s.search.SearchAll(ctx, q)
	} else {
		result, err = s.search.Search(ctx, q)
	}
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}

	items := make([]ItemDTO, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, itemToDTO(item))
	}

	s.logger.Debug("search complete",
		zap.String("strategy", result.Strategy),
		zap.Int("results", len(items)),
		zap.Duration("duration", result.SearchTime),
	)

	return c.JSON(http.StatusOK, SearchResponse{
		Items:        items,
		TotalCount:   result.TotalCount,
		Strategy:     result.Strategy,
		SearchTimeMS: result.SearchTime.Milliseconds(),
	})
}

// handleCreateItem stores a new context item.
func (s *Server) handleCreateItem(c echo.Context) error {
	var req CreateItemRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid item request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	item := memory.NewItem(memory.ItemType(req.Type), memory.ItemSource(req.Source), req.Content)
	item.Tags = req.Tags
	item.ProjectID = req.ProjectID
	item.SessionID = req.SessionID
	item.TaskID = req.TaskID
	item.ChatID = req.ChatID
	for k, v := range req.Metadata {
		item.Metadata[k] = v
	}
	if req.Priority != "" {
		item.Priority = memory.ParsePriority(req.Priority)
	}
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid ttl")
		}
		item.ExpiresAt = item.Timestamp.Add(ttl)
	}

	if err := item.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.store.Store(c.Request().Context(), item); err != nil {
		s.logger.Error("item store failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "store failed")
	}

	return c.JSON(http.StatusCreated, CreateItemResponse{ID: item.ID})
}

// handleGetItem fetches one item by id.
func (s *Server) handleGetItem(c echo.Context) error {
	id := c.Param("id")
	item, err := s.store.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not found")
		}
		s.logger.Error("item fetch failed", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "fetch failed")
	}
	return c.JSON(http.StatusOK, itemToDTO(item))
}

// handleDeleteItem removes an item. Deleting an absent item succeeds.
func (s *Server) handleDeleteItem(c echo.Context) error {
	id := c.Param("id")
	if err := s.store.Remove(c.Request().Context(), id); err != nil {
		s.logger.Error("item delete failed", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "delete failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// handleCleanup purges expired chunks across all collections.
func (s *Server) handleCleanup(c echo.Context) error {
	removed, err := s.store.Cleanup(c.Request().Context())
	if err != nil {
		s.logger.Error("cleanup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "cleanup failed")
	}
	return c.JSON(http.StatusOK, CleanupResponse{ChunksRemoved: removed})
}
