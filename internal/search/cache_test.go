package search

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vodstream/searchservice/internal/domain"
)

// ---------------------------------------------------------------------------
// cacheLookup
// ---------------------------------------------------------------------------

func TestCacheLookupMissOnEmpty(t *testing.T) {
	svc := newTestService()
	_, found, needsRefresh := svc.cacheLookup("key", time.Now())
	if found || needsRefresh {
		t.Fatal("expected cache miss on empty cache")
	}
}

func TestCacheLookupHitFresh(t *testing.T) {
	svc := newTestService()
	resp := domain.SearchResponse{
		Query:   "test",
		Results: []domain.SearchResultItem{vod("a", "1", "A", "2020", 1)},
	}

	now := time.Now()
	svc.cacheStore("key", resp, now)

	got, found, needsRefresh := svc.cacheLookup("key", now.Add(time.Minute))
	if !found {
		t.Fatal("expected cache hit")
	}
	if needsRefresh {
		t.Fatal("expected no refresh needed for fresh entry")
	}
	if len(got.Results) != 1 {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestCacheLookupStaleOnlyFirstRefresh(t *testing.T) {
	svc := newTestService()
	now := time.Now()
	svc.cacheStore("key", domain.SearchResponse{Query: "test"}, now)

	staleTime := now.Add(defaultCacheTTL + time.Minute)

	_, found1, needsRefresh1 := svc.cacheLookup("key", staleTime)
	if !found1 || !needsRefresh1 {
		t.Fatal("first stale lookup should return data and trigger refresh")
	}

	_, found2, needsRefresh2 := svc.cacheLookup("key", staleTime.Add(time.Second))
	if !found2 {
		t.Fatal("expected stale hit on second lookup")
	}
	if needsRefresh2 {
		t.Fatal("second stale lookup should not trigger refresh")
	}
}

func TestCacheLookupExpiredBeyondStale(t *testing.T) {
	svc := newTestService()
	now := time.Now()
	svc.cacheStore("key", domain.SearchResponse{Query: "test"}, now)

	_, found, _ := svc.cacheLookup("key", now.Add(defaultStaleTTL+time.Hour))
	if found {
		t.Fatal("expected miss for expired-beyond-stale entry")
	}
}

func TestCacheLookupReturnsCopy(t *testing.T) {
	svc := newTestService()
	now := time.Now()
	svc.cacheStore("key", domain.SearchResponse{
		Results: []domain.SearchResultItem{vod("a", "1", "Original", "2020", 2)},
	}, now)

	got, _, _ := svc.cacheLookup("key", now)
	got.Results[0].Title = "Mutated"
	got.Results[0].Episodes[0] = "mutated"

	again, _, _ := svc.cacheLookup("key", now)
	if again.Results[0].Title != "Original" || again.Results[0].Episodes[0] == "mutated" {
		t.Fatalf("cached entry was mutated through a lookup: %+v", again.Results[0])
	}
}

func TestCacheTrimEvictsOldest(t *testing.T) {
	svc := newTestService()
	svc.warmerCfg.cacheMaxEntries = 3

	now := time.Now()
	for i := range 5 {
		key := "key-" + string(rune('a'+i))
		svc.cacheStore(key, domain.SearchResponse{Query: key}, now.Add(time.Duration(i)*time.Second))
	}

	svc.cacheMu.Lock()
	count := len(svc.cache)
	svc.cacheMu.Unlock()
	if count > 3 {
		t.Fatalf("expected max 3 entries, got %d", count)
	}

	_, foundA, _ := svc.cacheLookup("key-a", now.Add(5*time.Second))
	_, foundE, _ := svc.cacheLookup("key-e", now.Add(5*time.Second))
	if foundA {
		t.Fatal("oldest entry 'a' should have been evicted")
	}
	if !foundE {
		t.Fatal("newest entry 'e' should still exist")
	}
}

func TestBuildSearchCacheKeyNormalizes(t *testing.T) {
	left := buildSearchCacheKey(" Inception ", []string{"b", "a", "a"})
	right := buildSearchCacheKey("Inception", []string{"a", "b"})
	if left != right {
		t.Fatalf("keys differ: %q vs %q", left, right)
	}
	if buildSearchCacheKey("Inception", []string{"a"}) == right {
		t.Fatal("different source sets must not share a key")
	}
	if buildSearchCacheKey("inception", []string{"a", "b"}) == right {
		t.Fatal("queries differing in case must not share a key")
	}
}

func TestSearchCacheKeepsCaseSensitiveOrdering(t *testing.T) {
	source := &fakeSource{key: "a", items: []domain.SearchResultItem{
		vod("a", "1", "Inception", "2010", 1),
		vod("a", "2", "inception 2", "2020", 1),
	}}
	svc := NewService(sourcesOf(source), time.Second, WithCacheTTL(time.Minute))

	first, err := svc.Search(context.Background(), "Inception")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if first.Results[0].ID != "1" {
		t.Fatalf("exact match should lead, got %+v", first.Results)
	}

	second, err := svc.Search(context.Background(), "inception")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if second.Query != "inception" {
		t.Fatalf("response query = %q", second.Query)
	}
	if second.Results[0].ID != "2" || second.Results[1].ID != "1" {
		t.Fatalf("expected newer title first for lowercase query, got %+v", second.Results)
	}
	if source.hits.Load() != 2 {
		t.Fatalf("expected both searches to reach the source, got %d", source.hits.Load())
	}

	events := collect(t, svc.SearchStream(context.Background(), "inception"))
	if events[0].Query != "inception" || events[1].Results[0].ID != "2" {
		t.Fatalf("replayed stream used the wrong cached response: %+v", events)
	}
}

// ---------------------------------------------------------------------------
// markPopular & warmer
// ---------------------------------------------------------------------------

func TestMarkPopularTracksHitCount(t *testing.T) {
	svc := newTestService()
	now := time.Now()

	for i := range 3 {
		svc.markPopular("pop-key", "popular", now.Add(time.Duration(i)*time.Second))
	}

	svc.cacheMu.Lock()
	pop := svc.popular["pop-key"]
	svc.cacheMu.Unlock()
	if pop == nil || pop.hits != 3 {
		t.Fatalf("expected 3 hits, got %+v", pop)
	}
}

func TestMarkPopularTrimsExcess(t *testing.T) {
	svc := newTestService()
	svc.warmerCfg.popularMaxEntries = 3
	now := time.Now()

	svc.cacheMu.Lock()
	svc.popular["pk-a"] = &popularQuery{query: "a", hits: 10, lastSeen: now}
	svc.popular["pk-b"] = &popularQuery{query: "b", hits: 20, lastSeen: now}
	svc.popular["pk-c"] = &popularQuery{query: "c", hits: 30, lastSeen: now}
	svc.popular["pk-d"] = &popularQuery{query: "d", hits: 40, lastSeen: now}
	svc.cacheMu.Unlock()

	// pk-e (1 hit) and pk-a (10 hits) are the least popular.
	svc.markPopular("pk-e", "e", now.Add(time.Second))

	svc.cacheMu.Lock()
	defer svc.cacheMu.Unlock()
	if len(svc.popular) != 3 {
		t.Fatalf("expected 3 popular entries, got %d", len(svc.popular))
	}
	if _, ok := svc.popular["pk-a"]; ok {
		t.Fatal("entry 'a' should have been trimmed")
	}
	if _, ok := svc.popular["pk-d"]; !ok {
		t.Fatal("entry 'd' should remain")
	}
}

func TestRunWarmCycleRefreshesPopularQueries(t *testing.T) {
	source := &fakeSource{key: "warm", items: []domain.SearchResultItem{vod("warm", "1", "R", "2020", 1)}}
	svc := NewService(sourcesOf(source), 5*time.Second)
	svc.warmerCfg.warmTopQueries = 2
	svc.warmerCfg.warmInterval = time.Minute

	if _, err := svc.Search(context.Background(), "warmable"); err != nil {
		t.Fatalf("search error: %v", err)
	}
	if got := source.hits.Load(); got != 1 {
		t.Fatalf("expected 1 initial call, got %d", got)
	}

	now := time.Now()
	svc.cacheMu.Lock()
	for _, entry := range svc.cache {
		entry.expiresAt = now.Add(-time.Second)
		entry.staleUntil = now.Add(time.Hour)
	}
	svc.cacheMu.Unlock()

	svc.runWarmCycle(context.Background())

	if got := source.hits.Load(); got != 2 {
		t.Fatalf("expected 2 calls after warm cycle, got %d", got)
	}
}

func TestRunWarmCycleSkipsFreshCache(t *testing.T) {
	source := &fakeSource{key: "warm"}
	svc := NewService(sourcesOf(source), 5*time.Second)

	_, _ = svc.Search(context.Background(), "still-fresh")
	svc.runWarmCycle(context.Background())

	if got := source.hits.Load(); got != 1 {
		t.Fatalf("expected only 1 call (cache still fresh), got %d", got)
	}
}

func TestRunWarmCycleEmptyPopular(t *testing.T) {
	svc := newTestService()
	svc.runWarmCycle(context.Background())
}

func TestCollectWarmSpecsLimitsToTopN(t *testing.T) {
	svc := newTestService()
	svc.warmerCfg.warmTopQueries = 2
	svc.warmerCfg.warmInterval = time.Minute

	now := time.Now()
	svc.cacheMu.Lock()
	for i := range 5 {
		key := "query-" + string(rune('a'+i))
		svc.popular[key] = &popularQuery{query: key, hits: (i + 1) * 10, lastSeen: now}
		svc.cache[key] = &cachedSearchResponse{
			expiresAt:  now.Add(-time.Second),
			staleUntil: now.Add(time.Hour),
		}
	}
	svc.cacheMu.Unlock()

	specs := svc.collectWarmSpecs(now)
	if len(specs) != 2 {
		t.Fatalf("expected 2 warm specs, got %d", len(specs))
	}
	if specs[0].query != "query-e" {
		t.Fatalf("most popular query should come first, got %q", specs[0].query)
	}
}

// ---------------------------------------------------------------------------
// Options & concurrency
// ---------------------------------------------------------------------------

func TestWithCacheTTLSetsCustomTTL(t *testing.T) {
	svc := NewService(nil, time.Second, WithCacheTTL(time.Hour))
	if svc.CacheTTL() != time.Hour {
		t.Fatalf("expected cacheTTL=1h, got %v", svc.CacheTTL())
	}
	if svc.warmerCfg.staleTTL != 3*time.Hour {
		t.Fatalf("expected staleTTL=3h, got %v", svc.warmerCfg.staleTTL)
	}
}

func TestWithCacheTTLIgnoresZero(t *testing.T) {
	svc := NewService(nil, time.Second, WithCacheTTL(0))
	if svc.CacheTTL() != defaultCacheTTL {
		t.Fatalf("expected default cacheTTL, got %v", svc.CacheTTL())
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	source := &fakeSource{key: "concurrent", items: []domain.SearchResultItem{vod("concurrent", "1", "C", "2020", 1)}}
	svc := NewService(sourcesOf(source), 5*time.Second)

	_, _ = svc.Search(context.Background(), "concurrent")

	var wg sync.WaitGroup
	var failures atomic.Int32
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Search(context.Background(), "concurrent"); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := failures.Load(); got != 0 {
		t.Fatalf("expected 0 errors, got %d", got)
	}
	if got := source.hits.Load(); got != 1 {
		t.Fatalf("expected 1 source call, got %d", got)
	}
}

func TestCacheClearRefreshingResetsFlag(t *testing.T) {
	svc := newTestService()
	svc.cacheStore("key", domain.SearchResponse{Query: "test"}, time.Now())

	svc.cacheMu.Lock()
	svc.cache["key"].refreshing = true
	svc.cacheMu.Unlock()

	svc.cacheClearRefreshing("key")
	svc.cacheClearRefreshing("nonexistent")

	svc.cacheMu.Lock()
	defer svc.cacheMu.Unlock()
	if svc.cache["key"].refreshing {
		t.Fatal("expected refreshing to be cleared")
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newTestService() *Service {
	return NewService(nil, time.Second)
}
