package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/ranking"
)

// maxConcurrentSources limits the number of source queries one stream runs
// at the same time.
const maxConcurrentSources = 10

type generationKey struct{}

// WithGeneration tags ctx so every event of a stream started with it carries
// gen. Sessions use it to recognise stale events.
func WithGeneration(ctx context.Context, gen uint64) context.Context {
	return context.WithValue(ctx, generationKey{}, gen)
}

func generationFrom(ctx context.Context) uint64 {
	gen, _ := ctx.Value(generationKey{}).(uint64)
	return gen
}

// SearchStream queries every enabled source concurrently and reports each one
// as soon as it settles. The channel carries a start event, exactly one
// source_result or source_error per source, then complete, and is closed
// afterwards. Cancelling ctx stops emission; no complete event follows.
func (s *Service) SearchStream(ctx context.Context, query string) <-chan domain.StreamEvent {
	query = strings.TrimSpace(query)
	active := s.ActiveSources()
	ch := make(chan domain.StreamEvent, len(active)+2)

	if query != "" && !s.cacheDisabled {
		startedAt := time.Now()
		cacheKey := buildSearchCacheKey(query, s.activeKeys())
		if cached, ok, needsRefresh := s.cacheLookup(cacheKey, startedAt); ok {
			s.markPopular(cacheKey, query, startedAt)
			if needsRefresh {
				s.refreshCacheAsync(cacheKey, query)
			}
			go s.replayCached(ctx, cached, startedAt, ch)
			return ch
		}
	}

	go s.executeStream(ctx, query, active, ch)
	return ch
}

type streamEmitter struct {
	ctx context.Context
	gen uint64
	ch  chan<- domain.StreamEvent
}

func (e streamEmitter) emit(ev domain.StreamEvent) bool {
	if e.ctx.Err() != nil {
		return false
	}
	ev.Generation = e.gen
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (s *Service) executeStream(ctx context.Context, query string, active []Source, ch chan<- domain.StreamEvent) {
	defer close(ch)
	out := streamEmitter{ctx: ctx, gen: generationFrom(ctx), ch: ch}

	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if query == "" {
		active = nil
	}
	startedAt := time.Now()
	if !out.emit(domain.StreamEvent{Type: domain.StreamEventStart, Query: query, TotalSources: len(active)}) {
		return
	}
	if len(active) == 0 {
		out.emit(domain.StreamEvent{Type: domain.StreamEventComplete, Query: query, ElapsedMS: time.Since(startedAt).Milliseconds()})
		return
	}

	slog.Info("stream search started",
		slog.String("query", query),
		slog.Int("sources", len(active)),
		slog.Uint64("generation", out.gen),
	)

	var (
		mu      sync.Mutex
		failed  int
		wg      sync.WaitGroup
		batches = make([]sourceBatch, len(active))
		sem     = semaphore.NewWeighted(maxConcurrentSources)
	)
	for i, current := range active {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var (
				items []domain.SearchResultItem
				err   error
			)
			if err = sem.Acquire(runCtx, 1); err == nil {
				items, err = s.querySource(runCtx, current, query)
				sem.Release(1)
			}
			batch := newSourceBatch(current, items, err)
			batches[i] = batch

			ev := domain.StreamEvent{
				Type:       domain.StreamEventSourceResult,
				Query:      query,
				Source:     current.Key(),
				SourceName: sourceDisplayName(current),
			}
			if err != nil {
				ev.Type = domain.StreamEventSourceError
				ev.Error = batch.status.Error
				mu.Lock()
				failed++
				mu.Unlock()
			} else {
				filtered := s.filter.Apply(batch.items, query)
				ev.Results = ranking.SortBatchDefault(filtered, query)
			}
			out.emit(ev)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		slog.Debug("stream search abandoned",
			slog.String("query", query),
			slog.Uint64("generation", out.gen),
		)
		return
	}

	if !s.cacheDisabled {
		cacheKey := buildSearchCacheKey(query, sourceKeys(active))
		s.cacheStore(cacheKey, s.finalize(query, batches, startedAt), time.Now())
		s.markPopular(cacheKey, query, time.Now())
	}

	elapsed := time.Since(startedAt)
	slog.Info("stream search completed",
		slog.String("query", query),
		slog.Int("sources", len(active)),
		slog.Int("failed", failed),
		slog.Int64("elapsedMs", elapsed.Milliseconds()),
	)
	out.emit(domain.StreamEvent{
		Type:             domain.StreamEventComplete,
		Query:            query,
		CompletedSources: len(active),
		FailedSources:    failed,
		ElapsedMS:        elapsed.Milliseconds(),
	})
}

// replayCached turns a cached response back into the event sequence a live
// stream would have produced.
func (s *Service) replayCached(ctx context.Context, cached domain.SearchResponse, startedAt time.Time, ch chan<- domain.StreamEvent) {
	defer close(ch)
	out := streamEmitter{ctx: ctx, gen: generationFrom(ctx), ch: ch}

	if !out.emit(domain.StreamEvent{Type: domain.StreamEventStart, Query: cached.Query, TotalSources: len(cached.Sources)}) {
		return
	}
	bySource := make(map[string][]domain.SearchResultItem, len(cached.Sources))
	for _, item := range cached.Results {
		bySource[item.Source] = append(bySource[item.Source], item)
	}
	failed := 0
	for _, status := range cached.Sources {
		ev := domain.StreamEvent{
			Type:       domain.StreamEventSourceResult,
			Query:      cached.Query,
			Source:     status.Key,
			SourceName: status.Name,
			Results:    bySource[status.Key],
		}
		if !status.OK {
			failed++
			ev.Type = domain.StreamEventSourceError
			ev.Error = status.Error
			ev.Results = nil
		} else if ev.Results == nil {
			ev.Results = []domain.SearchResultItem{}
		}
		if !out.emit(ev) {
			return
		}
	}
	out.emit(domain.StreamEvent{
		Type:             domain.StreamEventComplete,
		Query:            cached.Query,
		CompletedSources: len(cached.Sources),
		FailedSources:    failed,
		ElapsedMS:        time.Since(startedAt).Milliseconds(),
	})
}

func sourceKeys(sources []Source) []string {
	keys := make([]string, len(sources))
	for i, source := range sources {
		keys[i] = source.Key()
	}
	return keys
}
