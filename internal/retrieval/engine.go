package retrieval

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

var tracer = otel.Tracer("memoryd.retrieval")

// ErrNilStore indicates construction without a store or strategies.
var ErrNilStore = errors.New("retrieval: store is required")

// Engine selects and runs ranking strategies. It exposes two modes:
// Search picks the single highest-priority applicable strategy;
// SearchAll runs every applicable strategy concurrently and blends.
type Engine struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewEngine creates an engine. With no explicit strategies the full
// default set is registered against the given store.
func NewEngine(store Searcher, logger *zap.Logger, strategies ...Strategy) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(strategies) == 0 {
		if store == nil {
			return nil, ErrNilStore
		}
		strategies = []Strategy{
			NewTaskStrategy(store, logger),
			NewProjectStrategy(store, logger),
			NewRecencyStrategy(store, logger),
			NewDocumentationStrategy(store, logger),
			NewRelevanceStrategy(store, logger),
		}
	}

	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})

	return &Engine{strategies: sorted, logger: logger}, nil
}

// Strategies returns the registered strategy names in priority order.
func (e *Engine) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Search runs the single highest-priority strategy that can handle the
// query.
func (e *Engine) Search(ctx context.Context, q *memory.Query) (*memory.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Search")
	defer span.End()

	if q == nil {
		q = &memory.Query{}
	}
	start := time.Now()

	strat := e.selectStrategy(q)
	if strat == nil {
		span.SetAttributes(attribute.String("strategy", "none"))
		return &memory.SearchResult{
			Items:      []*memory.ContextItem{},
			Strategy:   "none",
			SearchTime: time.Since(start),
		}, nil
	}

	span.SetAttributes(attribute.String("strategy", strat.Name()))
	strategySearches.WithLabelValues(strat.Name(), "single").Inc()

	items, err := strat.Search(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("results", len(items)))
	return &memory.SearchResult{
		Items:      items,
		TotalCount: len(items),
		Strategy:   strat.Name(),
		SearchTime: time.Since(start),
	}, nil
}

// SearchAll runs every applicable strategy concurrently and unions the
// results by item id, keeping each item's highest score. A failing
// strategy degrades to its absence; the blend only errors when every
// strategy failed.
func (e *Engine) SearchAll(ctx context.Context, q *memory.Query) (*memory.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.SearchAll")
	defer span.End()

	if q == nil {
		q = &memory.Query{}
	}
	start := time.Now()

	applicable := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		if s.CanHandle(q) {
			applicable = append(applicable, s)
		}
	}
	if len(applicable) == 0 {
		span.SetAttributes(attribute.String("strategy", "none"))
		return &memory.SearchResult{
			Items:      []*memory.ContextItem{},
			Strategy:   "none",
			SearchTime: time.Since(start),
		}, nil
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		byID     = make(map[string]*memory.ContextItem)
		firstErr error
	)
	for _, strat := range applicable {
		wg.Add(1)
		strategySearches.WithLabelValues(strat.Name(), "blended").Inc()
		go func(strat Strategy) {
			defer wg.Done()
			items, err := strat.Search(ctx, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Warn("strategy failed in blended search",
					zap.String("strategy", strat.Name()),
					zap.Error(err),
				)
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			for _, item := range items {
				if existing, ok := byID[item.ID]; ok {
					if item.RelevanceScore > existing.RelevanceScore {
						byID[item.ID] = item
					}
					continue
				}
				byID[item.ID] = item
			}
		}(strat)
	}
	wg.Wait()

	if len(byID) == 0 && firstErr != nil {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, firstErr.Error())
		return nil, firstErr
	}

	items := make([]*memory.ContextItem, 0, len(byID))
	for _, item := range byID {
		items = append(items, item)
	}
	sortRanked(items)
	total := len(items)
	items = truncate(items, q.Limit())

	names := make([]string, len(applicable))
	for i, s := range applicable {
		names[i] = s.Name()
	}

	span.SetAttributes(
		attribute.String("strategy", strings.Join(names, ",")),
		attribute.Int("results", len(items)),
	)
	return &memory.SearchResult{
		Items:      items,
		TotalCount: total,
		Strategy:   strings.Join(names, ","),
		SearchTime: time.Since(start),
	}, nil
}

func (e *Engine) selectStrategy(q *memory.Query) Strategy {
	for _, s := range e.strategies {
		if s.CanHandle(q) {
			return s
		}
	}
	return nil
}
