package apihttp

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/records"
)

func (s *Server) requireRecords(w http.ResponseWriter) bool {
	if s.records == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "user data storage is not configured")
		return false
	}
	return true
}

func (s *Server) writeRecordsError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, records.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "record not found")
	default:
		s.logger.Error(op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", op+" failed")
	}
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/search-history" {
		http.NotFound(w, r)
		return
	}
	if !s.requireRecords(w) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		keywords, err := s.records.History(r.Context())
		if err != nil {
			s.writeRecordsError(w, "search history", err)
			return
		}
		writeJSON(w, http.StatusOK, nonNilStrings(keywords))
	case http.MethodPost:
		var payload struct {
			Keyword string `json:"keyword"`
		}
		if err := decodeJSONBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		keywords, err := s.records.AddHistory(r.Context(), payload.Keyword)
		if err != nil {
			s.writeRecordsError(w, "search history", err)
			return
		}
		writeJSON(w, http.StatusOK, nonNilStrings(keywords))
	case http.MethodDelete:
		keywords, err := s.records.DeleteHistory(r.Context(), r.URL.Query().Get("keyword"))
		if err != nil {
			s.writeRecordsError(w, "search history", err)
			return
		}
		writeJSON(w, http.StatusOK, nonNilStrings(keywords))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSearchHistorySuggest(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/search-history/suggest" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireRecords(w) {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
			return
		}
		limit = parsed
	}
	items, err := s.records.SuggestHistory(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.writeRecordsError(w, "history suggest", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNilStrings(items)})
}

func (s *Server) handlePlayRecords(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/play-records" {
		http.NotFound(w, r)
		return
	}
	if !s.requireRecords(w) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		all, err := s.records.PlayRecords(r.Context())
		if err != nil {
			s.writeRecordsError(w, "play records", err)
			return
		}
		writeJSON(w, http.StatusOK, all)
	case http.MethodPost:
		var payload struct {
			Key    string            `json:"key"`
			Record domain.PlayRecord `json:"record"`
		}
		if err := decodeJSONBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if err := s.records.SavePlayRecord(r.Context(), strings.TrimSpace(payload.Key), payload.Record); err != nil {
			s.writeRecordsError(w, "play record save", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case http.MethodDelete:
		key := strings.TrimSpace(r.URL.Query().Get("key"))
		if key == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "key is required")
			return
		}
		if err := s.records.DeletePlayRecord(r.Context(), key); err != nil {
			s.writeRecordsError(w, "play record delete", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePlayRecordsRefresh(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/play-records/refresh" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.refresher == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "play record refresh is not configured")
		return
	}
	report, err := s.refresher.Refresh(r.Context())
	if err != nil {
		s.writeRecordsError(w, "play records refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/favorites" {
		http.NotFound(w, r)
		return
	}
	if !s.requireRecords(w) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		if key := strings.TrimSpace(r.URL.Query().Get("key")); key != "" {
			ok, err := s.records.IsFavorite(r.Context(), key)
			if err != nil {
				s.writeRecordsError(w, "favorites", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"key": key, "isFavorite": ok})
			return
		}
		all, err := s.records.Favorites(r.Context())
		if err != nil {
			s.writeRecordsError(w, "favorites", err)
			return
		}
		writeJSON(w, http.StatusOK, all)
	case http.MethodPost:
		var payload struct {
			Key      string          `json:"key"`
			Favorite domain.Favorite `json:"favorite"`
		}
		if err := decodeJSONBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if err := s.records.SaveFavorite(r.Context(), strings.TrimSpace(payload.Key), payload.Favorite); err != nil {
			s.writeRecordsError(w, "favorite save", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case http.MethodDelete:
		key := strings.TrimSpace(r.URL.Query().Get("key"))
		if key == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "key is required")
			return
		}
		if err := s.records.DeleteFavorite(r.Context(), key); err != nil {
			s.writeRecordsError(w, "favorite delete", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
