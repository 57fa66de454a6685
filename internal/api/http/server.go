package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/records"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type SearchService interface {
	Search(ctx context.Context, query string) (domain.SearchResponse, error)
	SearchStream(ctx context.Context, query string) <-chan domain.StreamEvent
	SourceDiagnostics() []domain.SourceDiagnostics
	CacheTTL() time.Duration
}

type SourceRegistry interface {
	Infos() []domain.SourceInfo
	SetEnabled(ctx context.Context, key string, enabled bool) (domain.SourceInfo, error)
}

type Prober interface {
	Probe(ctx context.Context, rawURL string) domain.ProbeResult
}

type RecordsService interface {
	History(ctx context.Context) ([]string, error)
	AddHistory(ctx context.Context, keyword string) ([]string, error)
	DeleteHistory(ctx context.Context, keyword string) ([]string, error)
	SuggestHistory(ctx context.Context, query string, limit int) ([]string, error)
	PlayRecords(ctx context.Context) (map[string]domain.PlayRecord, error)
	SavePlayRecord(ctx context.Context, key string, record domain.PlayRecord) error
	DeletePlayRecord(ctx context.Context, key string) error
	Favorites(ctx context.Context) (map[string]domain.Favorite, error)
	IsFavorite(ctx context.Context, key string) (bool, error)
	SaveFavorite(ctx context.Context, key string, favorite domain.Favorite) error
	DeleteFavorite(ctx context.Context, key string) error
}

type PlayRecordRefresher interface {
	Refresh(ctx context.Context) (domain.RefreshReport, error)
}

type Server struct {
	search     SearchService
	sources    SourceRegistry
	prober     Prober
	records    RecordsService
	refresher  PlayRecordRefresher
	bus        *records.Bus
	site       domain.SiteConfig
	cacheTTL   time.Duration
	allowLocal bool
	rateRPS    float64
	rateBurst  int
	logger     *slog.Logger

	wsHub       *wsHub
	baseCtx     context.Context
	baseCancel  context.CancelFunc
	unsubscribe []func()
	handler     http.Handler
}

const maxQueryLength = 500

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithSources(registry SourceRegistry) ServerOption {
	return func(s *Server) {
		s.sources = registry
	}
}

func WithProber(prober Prober) ServerOption {
	return func(s *Server) {
		s.prober = prober
	}
}

// WithPrivateProbeTargets lets /api/probe and /api/image-proxy reach
// loopback and private addresses.
func WithPrivateProbeTargets(allow bool) ServerOption {
	return func(s *Server) {
		s.allowLocal = allow
	}
}

// WithRecords wires the user data endpoints. Every bus topic is pushed to
// websocket clients.
func WithRecords(service RecordsService, bus *records.Bus) ServerOption {
	return func(s *Server) {
		s.records = service
		s.bus = bus
	}
}

func WithRefresher(refresher PlayRecordRefresher) ServerOption {
	return func(s *Server) {
		s.refresher = refresher
	}
}

func WithSiteConfig(site domain.SiteConfig) ServerOption {
	return func(s *Server) {
		s.site = site
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateRPS = rps
			s.rateBurst = burst
		}
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search:    searchService,
		logger:    slog.Default(),
		rateRPS:   50,
		rateBurst: 100,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	if server.search != nil {
		server.cacheTTL = server.search.CacheTTL()
	}

	server.baseCtx, server.baseCancel = context.WithCancel(context.Background())
	server.wsHub = newWSHub(server.logger)
	go server.wsHub.run()
	if server.bus != nil {
		for _, topic := range []records.Topic{
			records.TopicSearchHistoryUpdated,
			records.TopicPlayRecordsUpdated,
			records.TopicFavoritesUpdated,
		} {
			server.unsubscribe = append(server.unsubscribe, server.bus.Subscribe(topic, func(ev records.Event) {
				server.wsHub.Broadcast(string(ev.Topic), ev.Payload)
			}))
		}
	}

	server.handler = server.buildHandler()
	return server
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/search/stream", s.handleSearchStream)
	mux.HandleFunc("/api/search/sources", s.handleSources)
	mux.HandleFunc("/api/search/sources/health", s.handleSourcesHealth)
	mux.HandleFunc("/api/probe", s.handleProbe)
	mux.HandleFunc("/api/site-config", s.handleSiteConfig)
	mux.HandleFunc("/api/search-history", s.handleSearchHistory)
	mux.HandleFunc("/api/search-history/suggest", s.handleSearchHistorySuggest)
	mux.HandleFunc("/api/play-records", s.handlePlayRecords)
	mux.HandleFunc("/api/play-records/refresh", s.handlePlayRecordsRefresh)
	mux.HandleFunc("/api/favorites", s.handleFavorites)
	mux.HandleFunc("/api/image-proxy", s.handleImageProxy)
	mux.HandleFunc("/ws", s.handleWS)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "vodstream-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health" && p != "/ws"
		}),
	)
	return recoveryMiddleware(s.logger, requestIDMiddleware(rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(traced))))
}

// Close disconnects websocket clients, stops their searches and detaches
// from the event bus.
func (s *Server) Close() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil
	s.baseCancel()
	s.wsHub.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSiteConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    s.site,
	})
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return errors.New("request body is required")
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err // Client disconnected
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err // Client disconnected
	}
	flusher.Flush()
	return nil
}
