package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/ranking"
	"vodstream/searchservice/internal/telemetry"
)

// sourceBatch is the outcome of querying one source.
type sourceBatch struct {
	status domain.SourceStatus
	items  []domain.SearchResultItem
}

// Search queries every enabled source and returns one merged response. Sources
// are dispatched in batches of the configured parallelism with a pause between
// batches. A failing source is reported in Sources and never fails the call.
func (s *Service) Search(ctx context.Context, query string) (domain.SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.SearchResponse{Results: []domain.SearchResultItem{}}, nil
	}
	if len(s.sources) == 0 {
		return domain.SearchResponse{}, ErrNoSources
	}

	active := s.ActiveSources()
	if s.cacheDisabled {
		return s.executeBatched(ctx, query, active), nil
	}

	startedAt := time.Now()
	cacheKey := buildSearchCacheKey(query, s.activeKeys())
	if cached, ok, needsRefresh := s.cacheLookup(cacheKey, startedAt); ok {
		s.markPopular(cacheKey, query, startedAt)
		if needsRefresh {
			s.refreshCacheAsync(cacheKey, query)
		}
		cached.ElapsedMS = time.Since(startedAt).Milliseconds()
		return cached, nil
	}

	response := s.executeBatched(ctx, query, active)
	if ctx.Err() == nil {
		s.cacheStore(cacheKey, response, time.Now())
		s.markPopular(cacheKey, query, time.Now())
	}
	return response, nil
}

func (s *Service) searchNoCache(ctx context.Context, query string) domain.SearchResponse {
	response := s.executeBatched(ctx, query, s.ActiveSources())
	s.cacheStore(buildSearchCacheKey(query, s.activeKeys()), response, time.Now())
	return response
}

func (s *Service) refreshCacheAsync(cacheKey, query string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout+2*time.Second)
		defer cancel()
		response := s.executeBatched(ctx, query, s.ActiveSources())
		if ctx.Err() != nil {
			s.cacheClearRefreshing(cacheKey)
			return
		}
		s.cacheStore(cacheKey, response, time.Now())
	}()
}

func (s *Service) executeBatched(ctx context.Context, query string, active []Source) domain.SearchResponse {
	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	startedAt := time.Now()
	batches := make([]sourceBatch, len(active))
	chunks := lo.Chunk(lo.Range(len(active)), s.parallelism)

	for n, chunk := range chunks {
		if n > 0 && s.batchDelay > 0 {
			timer := time.NewTimer(s.batchDelay)
			select {
			case <-runCtx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		if err := runCtx.Err(); err != nil {
			for _, index := range lo.Flatten(chunks[n:]) {
				batches[index] = sourceBatch{status: failedStatus(active[index], err)}
			}
			break
		}

		var wg conc.WaitGroup
		for _, index := range chunk {
			wg.Go(func() {
				current := active[index]
				items, err := s.querySource(runCtx, current, query)
				batches[index] = newSourceBatch(current, items, err)
			})
		}
		wg.Wait()
	}

	response := s.finalize(query, batches, startedAt)
	slog.Info("search completed",
		slog.String("query", query),
		slog.Int("sources", len(active)),
		slog.Int("results", len(response.Results)),
		slog.Int64("elapsedMs", response.ElapsedMS),
	)
	return response
}

// finalize merges source batches in source order, applies the content filter
// once and the default ordering once over the whole set.
func (s *Service) finalize(query string, batches []sourceBatch, startedAt time.Time) domain.SearchResponse {
	statuses := make([]domain.SourceStatus, 0, len(batches))
	merged := make([]domain.SearchResultItem, 0)
	for _, batch := range batches {
		statuses = append(statuses, batch.status)
		merged = append(merged, batch.items...)
	}
	merged = s.filter.Apply(merged, query)
	return domain.SearchResponse{
		Query:     query,
		Results:   ranking.SortBatchDefault(merged, query),
		Sources:   statuses,
		ElapsedMS: time.Since(startedAt).Milliseconds(),
	}
}

// querySource runs one source query behind the circuit breaker and rate
// limiter. A panic inside the source is reported as an error.
func (s *Service) querySource(ctx context.Context, source Source, query string) (items []domain.SearchResultItem, err error) {
	key := source.Key()
	ctx, span := telemetry.Tracer().Start(ctx, "search.source")
	span.SetAttributes(attribute.String("source", key), attribute.String("query", query))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("results", len(items)))
		span.End()
	}()

	if blocked, until, lastErr := s.isSourceBlocked(key, time.Now()); blocked {
		slog.Warn("search: source blocked",
			slog.String("source", key),
			slog.String("until", until.UTC().Format(time.RFC3339)),
			slog.String("lastError", lastErr),
		)
		return nil, fmt.Errorf("source temporarily unhealthy until %s: %s", until.UTC().Format(time.RFC3339), lastErr)
	}

	if err := s.waitSourceRateLimit(ctx, key); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	startedAt := time.Now()
	var catcher panics.Catcher
	catcher.Try(func() {
		items, err = source.Search(ctx, query)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		items, err = nil, recovered.AsError()
	}
	elapsed := time.Since(startedAt)
	s.recordSourceResult(key, query, err, elapsed, time.Now())

	if err != nil {
		slog.Warn("search: source failed",
			slog.String("source", key),
			slog.String("query", query),
			slog.Int64("elapsedMs", elapsed.Milliseconds()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	slog.Debug("search: source completed",
		slog.String("source", key),
		slog.String("query", query),
		slog.Int("results", len(items)),
		slog.Int64("elapsedMs", elapsed.Milliseconds()),
	)
	return items, nil
}

func newSourceBatch(source Source, items []domain.SearchResultItem, err error) sourceBatch {
	if err != nil {
		return sourceBatch{status: failedStatus(source, err)}
	}
	if items == nil {
		items = []domain.SearchResultItem{}
	}
	return sourceBatch{
		status: domain.SourceStatus{Key: source.Key(), Name: sourceDisplayName(source), OK: true, Count: len(items)},
		items:  items,
	}
}

func failedStatus(source Source, err error) domain.SourceStatus {
	return domain.SourceStatus{
		Key:   source.Key(),
		Name:  sourceDisplayName(source),
		OK:    false,
		Error: err.Error(),
	}
}
