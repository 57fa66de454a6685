package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/metrics"
)

const (
	defaultProbeCacheTTL = 10 * time.Minute
	maxProbeCacheEntries = 1000
	redisProbePrefix     = "vodsearch:probe:"
	probeCacheName       = "probe"
)

// Runner is anything that can probe a stream URL.
type Runner interface {
	Probe(ctx context.Context, rawURL string) domain.ProbeResult
}

type cachedProbe struct {
	result    domain.ProbeResult
	expiresAt time.Time
}

// CachedProber remembers successful probes per URL. Concurrent probes of the
// same URL share one measurement. Failed probes are not cached.
type CachedProber struct {
	next  Runner
	ttl   time.Duration
	redis redis.UniversalClient
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cachedProbe
}

type CachedOption func(*CachedProber)

func WithRedis(client redis.UniversalClient) CachedOption {
	return func(c *CachedProber) {
		c.redis = client
	}
}

func NewCached(next Runner, ttl time.Duration, opts ...CachedOption) *CachedProber {
	if ttl <= 0 {
		ttl = defaultProbeCacheTTL
	}
	c := &CachedProber{
		next:    next,
		ttl:     ttl,
		entries: make(map[string]cachedProbe),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedProber) Probe(ctx context.Context, rawURL string) domain.ProbeResult {
	key := strings.TrimSpace(rawURL)
	if result, ok := c.lookup(ctx, key, time.Now()); ok {
		metrics.CacheHitsTotal.WithLabelValues(probeCacheName).Inc()
		return result
	}
	metrics.CacheMissesTotal.WithLabelValues(probeCacheName).Inc()

	value, _, _ := c.group.Do(key, func() (any, error) {
		if result, ok := c.lookup(ctx, key, time.Now()); ok {
			return result, nil
		}
		result := c.next.Probe(ctx, key)
		if result.LoadSpeed != domain.LoadSpeedFailed {
			c.store(ctx, key, result, time.Now())
		}
		return result, nil
	})
	return value.(domain.ProbeResult)
}

func (c *CachedProber) lookup(ctx context.Context, key string, now time.Time) (domain.ProbeResult, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && now.After(entry.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if ok {
		return entry.result, true
	}

	if c.redis == nil {
		return domain.ProbeResult{}, false
	}
	data, err := c.redis.Get(ctx, redisProbeKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("redis probe cache read failed", slog.String("error", err.Error()))
		}
		return domain.ProbeResult{}, false
	}
	var result domain.ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.ProbeResult{}, false
	}
	c.storeMemory(key, result, now)
	return result, true
}

func (c *CachedProber) store(ctx context.Context, key string, result domain.ProbeResult, now time.Time) {
	c.storeMemory(key, result, now)
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, redisProbeKey(key), data, c.ttl).Err(); err != nil {
		slog.Debug("redis probe cache write failed", slog.String("error", err.Error()))
	}
}

func (c *CachedProber) storeMemory(key string, result domain.ProbeResult, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cachedProbe{result: result, expiresAt: now.Add(c.ttl)}
	if len(c.entries) <= maxProbeCacheEntries {
		return
	}
	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
	for len(c.entries) > maxProbeCacheEntries {
		var oldestKey string
		var oldest time.Time
		for k, entry := range c.entries {
			if oldestKey == "" || entry.expiresAt.Before(oldest) {
				oldestKey, oldest = k, entry.expiresAt
			}
		}
		delete(c.entries, oldestKey)
	}
}

func redisProbeKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return redisProbePrefix + hex.EncodeToString(sum[:])
}
