package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"vodstream/searchservice/internal/domain"
)

var ErrNoSources = errors.New("no search sources configured")

const (
	defaultParallelism     = 5
	defaultInterBatchDelay = 500 * time.Millisecond
)

// Source is one searchable upstream. Implementations report failures as
// errors and never retry.
type Source interface {
	Key() string
	Name() string
	Search(ctx context.Context, query string) ([]domain.SearchResultItem, error)
}

// Availability decides whether a configured source takes part in searches.
type Availability interface {
	Enabled(key string) bool
}

type Service struct {
	sources       []Source
	byKey         map[string]Source
	availability  Availability
	timeout       time.Duration
	parallelism   int
	batchDelay    time.Duration
	filter        ContentFilter
	limiters      map[string]*rate.Limiter
	cacheDisabled bool
	cacheMu       sync.RWMutex
	cache         map[string]*cachedSearchResponse
	popular       map[string]*popularQuery
	warmerCfg     searchWarmerConfig
	warmerRun     atomic.Bool
	redisCache    *RedisCacheBackend
	healthMu      sync.Mutex
	health        map[string]*sourceHealth
}

type ServiceOption func(*Service)

func WithRedisCache(backend *RedisCacheBackend) ServiceOption {
	return func(s *Service) {
		s.redisCache = backend
	}
}

func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.warmerCfg.cacheTTL = ttl
			s.warmerCfg.staleTTL = ttl * 3
		}
	}
}

func WithCacheDisabled(disabled bool) ServiceOption {
	return func(s *Service) {
		s.cacheDisabled = disabled
	}
}

func WithAvailability(availability Availability) ServiceOption {
	return func(s *Service) {
		s.availability = availability
	}
}

// WithParallelism sets the batch size and pause used by the non-streaming
// search path.
func WithParallelism(limit int, delay time.Duration) ServiceOption {
	return func(s *Service) {
		if limit > 0 {
			s.parallelism = limit
		}
		if delay >= 0 {
			s.batchDelay = delay
		}
	}
}

func WithContentFilter(filter ContentFilter) ServiceOption {
	return func(s *Service) {
		s.filter = filter
	}
}

// WithSourceRateLimits installs a per-source request rate (requests per
// second). Sources without an entry are not throttled.
func WithSourceRateLimits(limits map[string]float64) ServiceOption {
	return func(s *Service) {
		for key, rps := range limits {
			key = strings.TrimSpace(key)
			if key == "" || rps <= 0 {
				continue
			}
			s.limiters[key] = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func NewService(sources []Source, timeout time.Duration, opts ...ServiceOption) *Service {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	svc := &Service{
		byKey:       make(map[string]Source, len(sources)),
		timeout:     timeout,
		parallelism: defaultParallelism,
		batchDelay:  defaultInterBatchDelay,
		limiters:    make(map[string]*rate.Limiter),
		cache:       make(map[string]*cachedSearchResponse),
		popular:     make(map[string]*popularQuery),
		warmerCfg:   defaultSearchWarmerConfig(),
		health:      make(map[string]*sourceHealth),
	}
	for _, source := range sources {
		if source == nil {
			continue
		}
		key := strings.TrimSpace(source.Key())
		if key == "" {
			continue
		}
		if _, exists := svc.byKey[key]; exists {
			continue
		}
		svc.byKey[key] = source
		svc.sources = append(svc.sources, source)
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) StartBackground(ctx context.Context) {
	if s.warmerRun.CompareAndSwap(false, true) {
		go s.runWarmer(ctx)
	}
}

// ActiveSources returns the enabled sources in configuration order.
func (s *Service) ActiveSources() []Source {
	out := make([]Source, 0, len(s.sources))
	for _, source := range s.sources {
		if s.availability != nil && !s.availability.Enabled(source.Key()) {
			continue
		}
		out = append(out, source)
	}
	return out
}

func (s *Service) activeKeys() []string {
	return sourceKeys(s.ActiveSources())
}

func (s *Service) waitSourceRateLimit(ctx context.Context, key string) error {
	limiter := s.limiters[key]
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func sourceDisplayName(source Source) string {
	if name := strings.TrimSpace(source.Name()); name != "" {
		return name
	}
	return source.Key()
}
