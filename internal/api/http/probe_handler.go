package apihttp

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/probe" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.prober == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "stream prober is not configured")
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing url")
		return
	}
	target, err := url.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid url")
		return
	}
	if err := s.urlGuard()(r.Context(), target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result := s.prober.Probe(r.Context(), raw)
	s.logger.Debug("stream probed",
		slog.String("host", target.Host),
		slog.String("quality", string(result.Quality)),
		slog.String("loadSpeed", result.LoadSpeed),
		slog.Int("pingMs", result.PingTime),
	)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, result)
}
