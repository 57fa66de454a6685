package apihttp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/ranking"
	"vodstream/searchservice/internal/search"
	"vodstream/searchservice/internal/sources"
)

type searchPayload struct {
	Query     string                    `json:"query,omitempty"`
	Results   []domain.SearchResultItem `json:"results"`
	Groups    []domain.AggregationGroup `json:"groups,omitempty"`
	Options   *domain.FilterOptions     `json:"options,omitempty"`
	Sources   []domain.SourceStatus     `json:"sources,omitempty"`
	ElapsedMS int64                     `json:"elapsedMs"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	params := r.URL.Query()
	query := strings.TrimSpace(params.Get("q"))
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}

	scope := parseSourceScope(params.Get("sources"))
	if err := s.checkScope(scope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.setSearchCacheHeaders(w)
	if query == "" {
		writeJSON(w, http.StatusOK, searchPayload{Results: []domain.SearchResultItem{}})
		return
	}

	response, err := s.search.Search(r.Context(), query)
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("query", truncate(query, 80)),
			slog.String("error", err.Error()),
		)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Del("CDN-Cache-Control")
		if errors.Is(err, search.ErrNoSources) {
			writeError(w, http.StatusServiceUnavailable, "no_sources", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		return
	}

	results := scope.items(response.Results)
	filter := domain.ParseFilterState(params.Get("source"), params.Get("title"), params.Get("year"), params.Get("yearOrder"))

	payload := searchPayload{
		Query:     response.Query,
		Results:   ranking.ApplyItems(results, filter, query),
		Sources:   scope.statuses(response.Sources),
		ElapsedMS: response.ElapsedMS,
	}
	if strings.EqualFold(strings.TrimSpace(params.Get("view")), "agg") {
		payload.Groups = ranking.ApplyGroups(ranking.Group(results), filter, query)
		options := ranking.Options(results)
		payload.Options = &options
	}

	failed := 0
	for _, status := range payload.Sources {
		if !status.OK {
			failed++
		}
	}
	s.logger.Info("search completed",
		slog.String("query", truncate(query, 80)),
		slog.Int("results", len(payload.Results)),
		slog.Int("failedSources", failed),
		slog.Int64("elapsedMs", response.ElapsedMS),
	)
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) setSearchCacheHeaders(w http.ResponseWriter) {
	seconds := int64(s.cacheTTL / time.Second)
	if seconds <= 0 {
		w.Header().Set("Cache-Control", "no-store")
		return
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, s-maxage=%d", seconds, seconds))
	w.Header().Set("CDN-Cache-Control", fmt.Sprintf("public, s-maxage=%d", seconds))
}

func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/search/stream" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	scope := parseSourceScope(r.URL.Query().Get("sources"))
	if err := s.checkScope(scope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var completed, failed int
	for ev := range s.search.SearchStream(r.Context(), query) {
		switch ev.Type {
		case domain.StreamEventStart:
			if scope != nil {
				ev.TotalSources = s.scopedTotal(scope, ev.TotalSources)
			}
		case domain.StreamEventSourceResult, domain.StreamEventSourceError:
			if !scope.allows(ev.Source) {
				continue
			}
			completed++
			if ev.Type == domain.StreamEventSourceError {
				failed++
			}
		case domain.StreamEventComplete:
			if scope != nil {
				ev.CompletedSources = completed
				ev.FailedSources = failed
			}
		}
		if err := writeSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
			return // Client disconnected
		}
	}
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/search/sources" {
		http.NotFound(w, r)
		return
	}
	if s.sources == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "source registry is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		items := s.sources.Infos()
		if !parseOptionalBool(r.URL.Query().Get("all")) {
			enabled := make([]domain.SourceInfo, 0, len(items))
			for _, item := range items {
				if item.Enabled {
					enabled = append(enabled, item)
				}
			}
			items = enabled
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPatch:
		var payload struct {
			Key     string `json:"key"`
			Enabled *bool  `json:"enabled"`
		}
		if err := decodeJSONBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		key := strings.TrimSpace(payload.Key)
		if key == "" || payload.Enabled == nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "key and enabled are required")
			return
		}
		info, err := s.sources.SetEnabled(r.Context(), key, *payload.Enabled)
		if err != nil {
			if errors.Is(err, sources.ErrUnknownSource) {
				writeError(w, http.StatusNotFound, "not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "source update failed")
			return
		}
		s.logger.Info("source toggled",
			slog.String("source", info.Key),
			slog.Bool("enabled", info.Enabled),
		)
		writeJSON(w, http.StatusOK, info)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSourcesHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/search/sources/health" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     s.search.SourceDiagnostics(),
	})
}

// sourceScope narrows a response to the sources a caller asked for. A nil
// scope allows everything.
type sourceScope map[string]struct{}

func parseSourceScope(raw string) sourceScope {
	keys := parseCSV(raw)
	if len(keys) == 0 {
		return nil
	}
	scope := make(sourceScope, len(keys))
	for _, key := range keys {
		scope[key] = struct{}{}
	}
	return scope
}

func (sc sourceScope) allows(key string) bool {
	if sc == nil {
		return true
	}
	_, ok := sc[key]
	return ok
}

func (sc sourceScope) items(items []domain.SearchResultItem) []domain.SearchResultItem {
	if sc == nil {
		return items
	}
	out := make([]domain.SearchResultItem, 0, len(items))
	for _, item := range items {
		if sc.allows(item.Source) {
			out = append(out, item)
		}
	}
	return out
}

func (sc sourceScope) statuses(statuses []domain.SourceStatus) []domain.SourceStatus {
	if sc == nil {
		return statuses
	}
	out := make([]domain.SourceStatus, 0, len(statuses))
	for _, status := range statuses {
		if sc.allows(status.Key) {
			out = append(out, status)
		}
	}
	return out
}

// checkScope rejects source keys the registry does not know. Without a
// registry every key is accepted.
func (s *Server) checkScope(scope sourceScope) error {
	if scope == nil || s.sources == nil {
		return nil
	}
	known := make(map[string]struct{})
	for _, info := range s.sources.Infos() {
		known[info.Key] = struct{}{}
	}
	for key := range scope {
		if _, ok := known[key]; !ok {
			return fmt.Errorf("%w: %s", sources.ErrUnknownSource, key)
		}
	}
	return nil
}

// scopedTotal is the number of requested sources that will actually report.
func (s *Server) scopedTotal(scope sourceScope, total int) int {
	if s.sources == nil {
		return min(len(scope), total)
	}
	count := 0
	for _, info := range s.sources.Infos() {
		if info.Enabled && scope.allows(info.Key) {
			count++
		}
	}
	return count
}
