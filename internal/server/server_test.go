package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// fakeStore implements ItemStore in memory.
type fakeStore struct {
	items     map[string]*memory.ContextItem
	healthErr error
	storeErr  error
	cleanupN  int
	removed   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*memory.ContextItem)}
}

func (f *fakeStore) Store(_ context.Context, item *memory.ContextItem) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*memory.ContextItem, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrItemNotFound, id)
	}
	return item, nil
}

func (f *fakeStore) Remove(_ context.Context, id string) error {
	delete(f.items, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeStore) Cleanup(context.Context) (int, error) {
	return f.cleanupN, nil
}

func (f *fakeStore) Stats(context.Context) (*store.Stats, error) {
	return &store.Stats{
		TotalItems:   2,
		TotalChunks:  3,
		ByCollection: map[string]int{"tasks": 2},
		ByType:       map[string]int{"task": 2},
		BySource:     map[string]int{"user_input": 2},
	}, nil
}

func (f *fakeStore) HealthCheck(context.Context) error {
	return f.healthErr
}

// fakeSearcher records which mode was used and returns a canned result.
type fakeSearcher struct {
	result    *memory.SearchResult
	err       error
	lastMode  string
	lastQuery *memory.Query
}

func (f *fakeSearcher) Search(_ context.Context, q *memory.Query) (*memory.SearchResult, error) {
	f.lastMode = "single"
	f.lastQuery = q
	return f.result, f.err
}

func (f *fakeSearcher) SearchAll(_ context.Context, q *memory.Query) (*memory.SearchResult, error) {
	f.lastMode = "blended"
	f.lastQuery = q
	return f.result, f.err
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{
			Host: "localhost",
			Port: 9090,
		}

		srv, err := NewServer(newFakeStore(), &fakeSearcher{}, zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, srv)
		assert.NotNil(t, srv.echo)
		assert.Equal(t, cfg, srv.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		srv, err := NewServer(newFakeStore(), &fakeSearcher{}, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.NotNil(t, srv)
		assert.Equal(t, "localhost", srv.config.Host)
		assert.Equal(t, 9090, srv.config.Port)
	})

	t.Run("returns error when store is nil", func(t *testing.T) {
		_, err := NewServer(nil, &fakeSearcher{}, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "store cannot be nil")
	})

	t.Run("returns error when searcher is nil", func(t *testing.T) {
		_, err := NewServer(newFakeStore(), nil, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "searcher cannot be nil")
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(newFakeStore(), &fakeSearcher{}, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("reports ok when backend is reachable", func(t *testing.T) {
		srv := setupTestServer(t, newFakeStore(), &fakeSearcher{})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		err := json.Unmarshal(rec.Body.Bytes(), &resp)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "ok", resp.VectorStore)
	})

	t.Run("reports degraded when backend heartbeat fails", func(t *testing.T) {
		fs := newFakeStore()
		fs.healthErr = store.ErrDegraded
		srv := setupTestServer(t, fs, &fakeSearcher{})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		// Still 200: the daemon itself is alive
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		err := json.Unmarshal(rec.Body.Bytes(), &resp)
		require.NoError(t, err)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "degraded", resp.VectorStore)
	})
}

func TestHandleStats(t *testing.T) {
	srv := setupTestServer(t, newFakeStore(), &fakeSearcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()

	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	err := json.Unmarshal(rec.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TotalItems)
	assert.Equal(t, 3, resp.TotalChunks)
	assert.Equal(t, 2, resp.ByCollection["tasks"])
	assert.False(t, resp.Degraded)
}

func TestHandleSearch(t *testing.T) {
	makeResult := func() *memory.SearchResult {
		item := memory.NewItem(memory.TypeTask, memory.SourceUserInput, "fixed the race in the watcher")
		item.RelevanceScore = 0.9
		item.TaskID = "task-1"
		return &memory.SearchResult{
			Items:      []*memory.ContextItem{item},
			TotalCount: 1,
			Strategy:   "task",
			SearchTime: 12 * time.Millisecond,
		}
	}

	t.Run("runs single strategy by default", func(t *testing.T) {
		search := &fakeSearcher{result: makeResult()}
		srv := setupTestServer(t, newFakeStore(), search)

		body, err := json.Marshal(SearchRequest{Query: "race", TaskID: "task-1"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "single", search.lastMode)
		require.NotNil(t, search.lastQuery)
		assert.Equal(t, "race", search.lastQuery.Text)
		assert.Equal(t, "task-1", search.lastQuery.TaskID)

		var resp SearchResponse
		err = json.Unmarshal(rec.Body.Bytes(), &resp)
		require.NoError(t, err)
		assert.Equal(t, "task", resp.Strategy)
		assert.Equal(t, 1, resp.TotalCount)
		require.Len(t, resp.Items, 1)
		assert.Equal(t, "task", resp.Items[0].Type)
		assert.Equal(t, 0.9, resp.Items[0].RelevanceScore)
	})

	t.Run("blend flag routes to blended search", func(t *testing.T) {
		search := &fakeSearcher{result: makeResult()}
		srv := setupTestServer(t, newFakeStore(), search)

		body, err := json.Marshal(SearchRequest{Query: "race", Blend: true})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "blended", search.lastMode)
	})

	t.Run("converts type and source filters", func(t *testing.T) {
		search := &fakeSearcher{result: makeResult()}
		srv := setupTestServer(t, newFakeStore(), search)

		body, err := json.Marshal(SearchRequest{
			Query:       "race",
			Types:       []string{"task", "long_term"},
			Sources:     []string{"error_recovery"},
			MinPriority: "high",
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, search.lastQuery)
		assert.Equal(t, []memory.ItemType{memory.TypeTask, memory.TypeLongTerm}, search.lastQuery.Types)
		assert.Equal(t, []memory.ItemSource{memory.SourceErrorRecovery}, search.lastQuery.Sources)
		assert.Equal(t, memory.PriorityHigh, search.lastQuery.MinPriority)
	})

	t.Run("rejects unknown item type", func(t *testing.T) {
		srv := setupTestServer(t, newFakeStore(), &fakeSearcher{result: makeResult()})

		body, err := json.Marshal(SearchRequest{Query: "x", Types: []string{"bogus"}})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]interface{}
		err = json.Unmarshal(rec.Body.Bytes(), &resp)
		require.NoError(t, err)
		assert.Contains(t, resp["message"], "unknown item type")
	})

	t.Run("handles invalid json", func(t *testing.T) {
		srv := setupTestServer(t, newFakeStore(), &fakeSearcher{result: makeResult()})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader([]byte("invalid json")))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("reports search failure", func(t *testing.T) {
		search := &fakeSearcher{err: errors.New("backend down")}
		srv := setupTestServer(t, newFakeStore(), search)

		body, err := json.Marshal(SearchRequest{Query: "x"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleCreateItem(t *testing.T) {
	t.Run("stores item and returns id", func(t *testing.T) {
		fs := newFakeStore()
		srv := setupTestServer(t, fs, &fakeSearcher{})

		body, err := json.Marshal(CreateItemRequest{
			Type:      "task",
			Source:    "user_input",
			Content:   "prefer table tests in this repo",
			Priority:  "high",
			TTL:       "24h",
			Tags:      []string{"style"},
			ProjectID: "proj-1",
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/items", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)

		var resp CreateItemResponse
		err = json.Unmarshal(rec.Body.Bytes(), &resp)
		require.NoError(t, err)
		assert.NotEmpty(t, resp.ID)

		stored, ok := fs.items[resp.ID]
		require.True(t, ok)
		assert.Equal(t, memory.TypeTask, stored.Type)
		assert.Equal(t, memory.PriorityHigh, stored.Priority)
		assert.Equal(t, "proj-1", stored.ProjectID)
		assert.False(t, stored.ExpiresAt.IsZero())
	})

	t.Run("rejects empty content", func(t *testing.T) {
		srv := setupTestServer(t, newFakeStore(), &fakeSearcher{})

		body, err := json.Marshal(CreateItemRequest{Type: "task", Source: "user_input"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/items", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]interface{}
		err = json.Unmarshal(rec.Body.Bytes(), &resp)
		require.NoError(t, err)
		assert.Contains(t, resp["message"], "content field is required")
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		srv := setupTestServer(t, newFakeStore(), &fakeSearcher{})

		body, err := json.Marshal(CreateItemRequest{Type: "bogus", Source: "user_input", Content: "x"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/items", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed ttl", func(t *testing.T) {
		srv := setupTestServer(t, newFakeStore(), &fakeSearcher{})

		body, err := json.Marshal(CreateItemRequest{Type: "task", Source: "user_input", Content: "x", TTL: "soon"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/items", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]interface{}
		err = json.Unmarshal(rec.Body.Bytes(), &resp)
		require.NoError(t, err)
		assert.Contains(t, resp["message"], "invalid ttl")
	})

	t.Run("reports store failure", func(t *testing.T) {
		fs := newFakeStore()
		fs.storeErr = errors.New("write failed")
		srv := setupTestServer(t, fs, &fakeSearcher{})

		body, err := json.Marshal(CreateItemRequest{Type: "task", Source: "user_input", Content: "x"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/items", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleGetItem(t *testing.T) {
	t.Run("returns stored item", func(t *testing.T) {
		fs := newFakeStore()
		item := memory.NewItem(memory.TypeProject, memory.SourceCodeAnalysis, "retrieval engine lives in internal/retrieval")
		item.ExpiresAt = item.Timestamp.Add(time.Hour)
		fs.items[item.ID] = item
		srv := setupTestServer(t, fs, &fakeSearcher{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/items/"+item.ID, nil)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp ItemDTO
		err := json.Unmarshal(rec.Body.Bytes(), &resp)
		require.NoError(t, err)
		assert.Equal(t, item.ID, resp.ID)
		assert.Equal(t, "project", resp.Type)
		assert.Equal(t, "code_analysis", resp.Source)
		require.NotNil(t, resp.ExpiresAt)
	})

	t.Run("returns 404 for unknown id", func(t *testing.T) {
		srv := setupTestServer(t, newFakeStore(), &fakeSearcher{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/items/missing", nil)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleDeleteItem(t *testing.T) {
	fs := newFakeStore()
	item := memory.NewItem(memory.TypeChat, memory.SourceConversation, "hello")
	fs.items[item.ID] = item
	srv := setupTestServer(t, fs, &fakeSearcher{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/items/"+item.ID, nil)
	rec := httptest.NewRecorder()

	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{item.ID}, fs.removed)

	// Deleting again still succeeds
	rec = httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/items/"+item.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleCleanup(t *testing.T) {
	fs := newFakeStore()
	fs.cleanupN = 7
	srv := setupTestServer(t, fs, &fakeSearcher{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cleanup", nil)
	rec := httptest.NewRecorder()

	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp CleanupResponse
	err := json.Unmarshal(rec.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, 7, resp.ChunksRemoved)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupTestServer(t, newFakeStore(), &fakeSearcher{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}

func TestServerLifecycle(t *testing.T) {
	t.Run("starts and shuts down gracefully", func(t *testing.T) {
		cfg := &Config{
			Host: "localhost",
			Port: 0, // Use random available port
		}

		srv, err := NewServer(newFakeStore(), &fakeSearcher{}, zap.NewNop(), cfg)
		require.NoError(t, err)

		// Start server in background
		errChan := make(chan error, 1)
		go func() {
			errChan <- srv.Start()
		}()

		// Give server time to start
		time.Sleep(100 * time.Millisecond)

		// Shutdown server
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = srv.Shutdown(ctx)
		assert.NoError(t, err)

		// Wait for server to finish
		select {
		case err := <-errChan:
			// Server should shut down cleanly (http.ErrServerClosed is expected)
			assert.True(t, err == nil || err == http.ErrServerClosed)
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		srv := setupTestServer(t, newFakeStore(), &fakeSearcher{})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		srv.echo.ServeHTTP(rec, req)

		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		srv := setupTestServer(t, newFakeStore(), &fakeSearcher{})

		// Add a route that panics
		srv.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		rec := httptest.NewRecorder()

		// Should not panic, middleware should recover
		assert.NotPanics(t, func() {
			srv.echo.ServeHTTP(rec, req)
		})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

// setupTestServer creates a test server over the given fakes.
func setupTestServer(t *testing.T, st ItemStore, search Searcher) *Server {
	t.Helper()

	cfg := &Config{
		Host: "localhost",
		Port: 9090,
	}

	srv, err := NewServer(st, search, zap.NewNop(), cfg)
	require.NoError(t, err)

	return srv
}
