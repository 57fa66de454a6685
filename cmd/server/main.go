package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	apihttp "vodstream/searchservice/internal/api/http"
	"vodstream/searchservice/internal/app"
	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/metrics"
	"vodstream/searchservice/internal/probe"
	"vodstream/searchservice/internal/records"
	recordsmongo "vodstream/searchservice/internal/records/mongo"
	"vodstream/searchservice/internal/search"
	"vodstream/searchservice/internal/sources"
	"vodstream/searchservice/internal/telemetry"
)

const serviceName = "vodstream-search"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("logFile", cfg.LogFile.Path),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.String("sourcesFile", cfg.SourcesFile),
		slog.Bool("hasInlineSources", cfg.SourcesInline != ""),
		slog.Int("parallelismCap", cfg.ParallelismCap),
		slog.Duration("interBatchDelay", cfg.InterBatchDelay),
		slog.Bool("contentFilterOff", cfg.ContentFilterOff),
		slog.Bool("titleMatchFilter", cfg.TitleMatchFilter),
		slog.Duration("cacheTTL", cfg.CacheTTL),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
		slog.Duration("probeOverallTimeout", cfg.ProbeOverallTimeout),
		slog.Bool("probeAllowPrivate", cfg.ProbeAllowPrivateNet),
		slog.Bool("hasRedis", cfg.RedisURL != ""),
		slog.Bool("hasMongo", cfg.MongoURI != ""),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configured, err := loadSources(cfg)
	if err != nil {
		logger.Error("sources config invalid", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if len(configured) == 0 {
		logger.Warn("no search sources configured")
	}

	redisClient := connectRedis(rootCtx, cfg.RedisURL, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	sourceHTTP := &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	clients := make([]*sources.Client, 0, len(configured))
	rateLimits := make(map[string]float64)
	for _, src := range configured {
		clients = append(clients, sources.NewClient(sources.Config{
			Source:    src,
			UserAgent: cfg.UserAgent,
			Client:    sourceHTTP,
		}))
		if src.RateRPS > 0 {
			rateLimits[src.Key] = src.RateRPS
		}
	}

	var overrideStore sources.OverrideStore
	if redisClient != nil {
		overrideStore = sources.NewRedisOverrideStore(redisClient, "")
	}
	registry := sources.NewRegistry(clients, overrideStore)
	if err := registry.LoadOverrides(rootCtx); err != nil {
		logger.Warn("source overrides load failed", slog.String("error", err.Error()))
	}

	searchSources := make([]search.Source, 0, len(clients))
	for _, client := range registry.Clients() {
		searchSources = append(searchSources, client)
	}
	searchService := search.NewService(searchSources, cfg.RequestTimeout, buildServiceOptions(cfg, registry, redisClient, rateLimits)...)

	userData, closeMongo := buildRecords(rootCtx, cfg, logger)
	defer closeMongo()
	refresher := records.NewRefresher(userData, registry)

	prober := buildProber(cfg, redisClient)

	api := apihttp.NewServer(searchService,
		apihttp.WithLogger(logger),
		apihttp.WithSources(registry),
		apihttp.WithProber(prober),
		apihttp.WithPrivateProbeTargets(cfg.ProbeAllowPrivateNet),
		apihttp.WithRecords(userData, userData.Bus()),
		apihttp.WithRefresher(refresher),
		apihttp.WithSiteConfig(domain.SiteConfig{SiteName: cfg.SiteName, Announcement: cfg.Announcement}),
		apihttp.WithRateLimit(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst),
	)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE and websocket connections outlive any sane write timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	searchService.StartBackground(rootCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("vod search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Int("sources", len(clients)),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	api.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
		_ = server.Close()
	}
	logger.Info("vod search service stopped")
}

// loadSources prefers the inline SOURCES value over the config file.
func loadSources(cfg app.Config) ([]sources.Source, error) {
	if cfg.SourcesInline != "" {
		return sources.ParseConfig([]byte(cfg.SourcesInline))
	}
	return sources.LoadFile(cfg.SourcesFile)
}

func connectRedis(ctx context.Context, rawURL string, logger *slog.Logger) *redis.Client {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(rawURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory state only", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable, using in-memory state only", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return client
}

func buildServiceOptions(cfg app.Config, registry *sources.Registry, redisClient *redis.Client, rateLimits map[string]float64) []search.ServiceOption {
	opts := []search.ServiceOption{
		search.WithAvailability(registry),
		search.WithParallelism(cfg.ParallelismCap, cfg.InterBatchDelay),
		search.WithContentFilter(search.ContentFilter{
			Words:      cfg.ContentFilterWords,
			Disabled:   cfg.ContentFilterOff,
			TitleMatch: cfg.TitleMatchFilter,
		}),
		search.WithSourceRateLimits(rateLimits),
	}
	if cfg.CacheDisabled {
		return append(opts, search.WithCacheDisabled(true))
	}
	if cfg.CacheTTL > 0 {
		opts = append(opts, search.WithCacheTTL(cfg.CacheTTL))
	}
	if redisClient != nil {
		opts = append(opts, search.WithRedisCache(search.NewRedisCacheBackend(redisClient)))
	}
	return opts
}

// buildRecords uses MongoDB when MONGO_URI is set and reachable, otherwise
// user data lives in memory for the life of the process.
func buildRecords(ctx context.Context, cfg app.Config, logger *slog.Logger) (*records.Service, func()) {
	noop := func() {}
	if cfg.MongoURI == "" {
		logger.Info("mongo not configured, user data kept in memory")
		return records.NewService(nil, nil, nil, nil), noop
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := recordsmongo.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Warn("mongo connect failed, user data kept in memory", slog.String("error", err.Error()))
		return records.NewService(nil, nil, nil, nil), noop
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Warn("mongo ping failed, user data kept in memory", slog.String("error", err.Error()))
		disconnectMongo(client, logger)
		return records.NewService(nil, nil, nil, nil), noop
	}
	if err := recordsmongo.EnsureIndexes(connectCtx, client, cfg.MongoDB); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}
	logger.Info("mongo connected", slog.String("database", cfg.MongoDB))

	service := records.NewService(
		recordsmongo.NewPlayRecordRepository(client, cfg.MongoDB),
		recordsmongo.NewSearchHistoryRepository(client, cfg.MongoDB),
		recordsmongo.NewFavoriteRepository(client, cfg.MongoDB),
		nil,
	)
	return service, func() { disconnectMongo(client, logger) }
}

func disconnectMongo(client *mongo.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn("mongo disconnect failed", slog.String("error", err.Error()))
	}
}

func buildProber(cfg app.Config, redisClient *redis.Client) *probe.CachedProber {
	probeCfg := probe.Config{
		QuickTimeout:   cfg.ProbeQuickTimeout,
		OverallTimeout: cfg.ProbeOverallTimeout,
		BackupTimeout:  cfg.ProbeBackupTimeout,
		MaxSegments:    cfg.ProbeMaxSegments,
		UserAgent:      cfg.UserAgent,
		Client:         &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	if !cfg.ProbeAllowPrivateNet {
		probeCfg.CheckURL = apihttp.PublicURLGuard
	}
	var opts []probe.CachedOption
	if redisClient != nil {
		opts = append(opts, probe.WithRedis(redisClient))
	}
	return probe.NewCached(probe.New(probeCfg), cfg.ProbeCacheTTL, opts...)
}

func newLogger(levelRaw, formatRaw string, file app.LogFileConfig) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stdout
	if path := strings.TrimSpace(file.Path); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   path,
				MaxSize:    file.MaxSizeMB,
				MaxBackups: file.MaxBackups,
				MaxAge:     file.MaxAgeDays,
				Compress:   file.Compress,
			})
		}
	}

	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, options))
	}
	return slog.New(slog.NewTextHandler(out, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
