package search

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vodstream/searchservice/internal/domain"
)

type fakeSource struct {
	key   string
	items []domain.SearchResultItem
	err   error
	delay time.Duration
	panic bool
	hits  atomic.Int32

	// optional shared concurrency gauge
	inflight    *atomic.Int32
	maxInflight *atomic.Int32
}

func (p *fakeSource) Key() string  { return p.key }
func (p *fakeSource) Name() string { return strings.ToUpper(p.key) }

func (p *fakeSource) Search(ctx context.Context, _ string) ([]domain.SearchResultItem, error) {
	p.hits.Add(1)
	if p.inflight != nil {
		current := p.inflight.Add(1)
		defer p.inflight.Add(-1)
		for {
			seen := p.maxInflight.Load()
			if current <= seen || p.maxInflight.CompareAndSwap(seen, current) {
				break
			}
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.panic {
		panic("source exploded")
	}
	if p.err != nil {
		return nil, p.err
	}
	return append([]domain.SearchResultItem(nil), p.items...), nil
}

type staticAvailability map[string]bool

func (a staticAvailability) Enabled(key string) bool { return a[key] }

func vod(source, id, title, year string, episodes int) domain.SearchResultItem {
	eps := make([]string, episodes)
	for i := range eps {
		eps[i] = "https://cdn.example/" + source + "/" + id + ".m3u8"
	}
	return domain.SearchResultItem{
		ID:         id,
		Title:      title,
		Year:       year,
		Episodes:   eps,
		Source:     source,
		SourceName: strings.ToUpper(source),
	}
}

func sourcesOf(sources ...*fakeSource) []Source {
	out := make([]Source, len(sources))
	for i, s := range sources {
		out[i] = s
	}
	return out
}

// ---------------------------------------------------------------------------
// Search: basic scenarios
// ---------------------------------------------------------------------------

func TestSearchEmptyQuery(t *testing.T) {
	source := &fakeSource{key: "a", items: []domain.SearchResultItem{vod("a", "1", "X", "2020", 1)}}
	svc := NewService(sourcesOf(source), time.Second)

	response, err := svc.Search(context.Background(), "   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response.Results == nil || len(response.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", response.Results)
	}
	if source.hits.Load() != 0 {
		t.Fatal("empty query must not reach sources")
	}
}

func TestSearchNoSources(t *testing.T) {
	svc := NewService(nil, time.Second)
	if _, err := svc.Search(context.Background(), "x"); !errors.Is(err, ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
}

func TestSearchFailureDoesNotBlockOthers(t *testing.T) {
	svc := NewService(sourcesOf(
		&fakeSource{key: "ok", items: []domain.SearchResultItem{vod("ok", "1", "Inception", "2010", 1)}},
		&fakeSource{key: "bad", err: &domain.SourceQueryError{Source: "bad", Op: "search", StatusCode: 502, Err: errors.New("bad gateway")}},
	), time.Second, WithCacheDisabled(true))

	response, err := svc.Search(context.Background(), "Inception")
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(response.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(response.Results))
	}
	if len(response.Sources) != 2 {
		t.Fatalf("expected 2 source statuses, got %d", len(response.Sources))
	}
	if !response.Sources[0].OK || response.Sources[0].Count != 1 {
		t.Fatalf("unexpected ok status: %+v", response.Sources[0])
	}
	if response.Sources[1].OK || !strings.Contains(response.Sources[1].Error, "502") {
		t.Fatalf("unexpected failed status: %+v", response.Sources[1])
	}
}

func TestSearchRecoversSourcePanic(t *testing.T) {
	svc := NewService(sourcesOf(
		&fakeSource{key: "boom", panic: true},
		&fakeSource{key: "ok", items: []domain.SearchResultItem{vod("ok", "1", "Film", "2010", 1)}},
	), time.Second, WithCacheDisabled(true))

	response, err := svc.Search(context.Background(), "Film")
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(response.Results) != 1 || response.Sources[0].OK {
		t.Fatalf("panicking source should fail alone: %+v", response.Sources)
	}
}

func TestSearchInceptionFlatView(t *testing.T) {
	svc := NewService(sourcesOf(
		&fakeSource{key: "a", items: []domain.SearchResultItem{vod("a", "1", "Inception", "2010", 1)}},
		&fakeSource{key: "b", items: []domain.SearchResultItem{vod("b", "7", "Inception", "2010", 1)}},
	), time.Second, WithCacheDisabled(true))

	response, err := svc.Search(context.Background(), "Inception")
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(response.Results) != 2 {
		t.Fatalf("flat view should keep both items, got %d", len(response.Results))
	}
}

func TestSearchDefaultOrdering(t *testing.T) {
	svc := NewService(sourcesOf(
		&fakeSource{key: "a", items: []domain.SearchResultItem{
			vod("a", "1", "Inception Behind", "unknown", 1),
			vod("a", "2", "Inception Extras", "2012", 1),
		}},
		&fakeSource{key: "b", items: []domain.SearchResultItem{
			vod("b", "3", "Inception", "2010", 1),
		}},
	), time.Second, WithCacheDisabled(true))

	response, _ := svc.Search(context.Background(), "Inception")
	got := []string{response.Results[0].ID, response.Results[1].ID, response.Results[2].ID}
	if got[0] != "3" || got[1] != "2" || got[2] != "1" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestSearchSkipsDisabledSources(t *testing.T) {
	enabled := &fakeSource{key: "on", items: []domain.SearchResultItem{vod("on", "1", "X", "2020", 1)}}
	disabled := &fakeSource{key: "off", items: []domain.SearchResultItem{vod("off", "1", "X", "2020", 1)}}
	svc := NewService(sourcesOf(enabled, disabled), time.Second,
		WithAvailability(staticAvailability{"on": true}),
		WithCacheDisabled(true),
	)

	response, _ := svc.Search(context.Background(), "X")
	if disabled.hits.Load() != 0 {
		t.Fatal("disabled source was queried")
	}
	if len(response.Sources) != 1 || response.Sources[0].Key != "on" {
		t.Fatalf("unexpected statuses: %+v", response.Sources)
	}
}

func TestSearchContentFilter(t *testing.T) {
	blocked := vod("a", "1", "Inception", "2010", 1)
	blocked.TypeName = "伦理片"
	unrelated := vod("a", "2", "Memento", "2000", 1)
	kept := vod("a", "3", "inception (remaster)", "2010", 1)

	svc := NewService(sourcesOf(
		&fakeSource{key: "a", items: []domain.SearchResultItem{blocked, unrelated, kept}},
	), time.Second,
		WithCacheDisabled(true),
		WithContentFilter(ContentFilter{Words: []string{"伦理"}, TitleMatch: true}),
	)

	response, _ := svc.Search(context.Background(), "Inception")
	if len(response.Results) != 1 || response.Results[0].ID != "3" {
		t.Fatalf("unexpected filtered results: %+v", response.Results)
	}
}

func TestContentFilterDisabledKeepsCategories(t *testing.T) {
	item := vod("a", "1", "Inception", "2010", 1)
	item.TypeName = "伦理片"
	filter := ContentFilter{Words: []string{"伦理"}, Disabled: true}
	if got := filter.Apply([]domain.SearchResultItem{item}, "x"); len(got) != 1 {
		t.Fatalf("disabled blocklist should keep item, got %d", len(got))
	}
}

// ---------------------------------------------------------------------------
// Batching
// ---------------------------------------------------------------------------

func TestSearchBatchesRespectParallelism(t *testing.T) {
	var inflight, peak atomic.Int32
	sources := make([]*fakeSource, 5)
	for i := range sources {
		sources[i] = &fakeSource{
			key:         string(rune('a' + i)),
			delay:       30 * time.Millisecond,
			inflight:    &inflight,
			maxInflight: &peak,
		}
	}
	svc := NewService(sourcesOf(sources...), 2*time.Second, WithParallelism(2, 0), WithCacheDisabled(true))

	response, err := svc.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent queries, saw %d", got)
	}
	if len(response.Sources) != 5 {
		t.Fatalf("expected 5 statuses, got %d", len(response.Sources))
	}
}

func TestSearchWaitsBetweenBatches(t *testing.T) {
	svc := NewService(sourcesOf(
		&fakeSource{key: "a"}, &fakeSource{key: "b"}, &fakeSource{key: "c"},
	), 2*time.Second, WithParallelism(1, 40*time.Millisecond), WithCacheDisabled(true))

	started := time.Now()
	if _, err := svc.Search(context.Background(), "q"); err != nil {
		t.Fatalf("search error: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 80*time.Millisecond {
		t.Fatalf("expected two inter-batch pauses, finished in %v", elapsed)
	}
}

func TestSearchContextTimeoutMarksRemainingBatches(t *testing.T) {
	slow := &fakeSource{key: "slow", delay: time.Second}
	never := &fakeSource{key: "never"}
	svc := NewService(sourcesOf(slow, never), 5*time.Second, WithParallelism(1, 0), WithCacheDisabled(true))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	response, err := svc.Search(ctx, "q")
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if never.hits.Load() != 0 {
		t.Fatal("batch after timeout should not run")
	}
	for _, status := range response.Sources {
		if status.OK {
			t.Fatalf("expected all sources failed, got %+v", status)
		}
	}
}

// ---------------------------------------------------------------------------
// Circuit breaker & rate limits
// ---------------------------------------------------------------------------

func TestSourceBlockedAfterRepeatedFailures(t *testing.T) {
	bad := &fakeSource{key: "bad", err: errors.New("connection refused")}
	svc := NewService(sourcesOf(bad), time.Second, WithCacheDisabled(true))

	for range sourceFailureThreshold {
		_, _ = svc.Search(context.Background(), "q")
	}
	response, _ := svc.Search(context.Background(), "q")

	if got := bad.hits.Load(); got != sourceFailureThreshold {
		t.Fatalf("expected %d upstream calls, got %d", sourceFailureThreshold, got)
	}
	if !strings.Contains(response.Sources[0].Error, "temporarily unhealthy") {
		t.Fatalf("expected blocked error, got %q", response.Sources[0].Error)
	}

	diag := svc.SourceDiagnostics()
	if len(diag) != 1 || diag[0].ConsecutiveFailures != sourceFailureThreshold || diag[0].BlockedUntil == nil {
		t.Fatalf("unexpected diagnostics: %+v", diag)
	}
}

func TestExponentialBlockDuration(t *testing.T) {
	cases := map[int]time.Duration{
		1:  sourceBlockBase,
		3:  sourceBlockBase,
		4:  2 * sourceBlockBase,
		5:  4 * sourceBlockBase,
		20: sourceBlockMax,
	}
	for failures, want := range cases {
		if got := exponentialBlockDuration(failures); got != want {
			t.Errorf("exponentialBlockDuration(%d) = %v, want %v", failures, got, want)
		}
	}
}

func TestCancelledQueryDoesNotCountAsFailure(t *testing.T) {
	svc := NewService(nil, time.Second)
	svc.recordSourceResult("a", "q", context.Canceled, time.Millisecond, time.Now())
	if _, ok := svc.health["a"]; ok {
		t.Fatal("cancelled query should not touch health state")
	}
}

func TestSourceRateLimitHonoursContext(t *testing.T) {
	svc := NewService(nil, time.Second, WithSourceRateLimits(map[string]float64{"a": 0.01}))

	if err := svc.waitSourceRateLimit(context.Background(), "a"); err != nil {
		t.Fatalf("first wait should pass on burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.waitSourceRateLimit(ctx, "a"); err == nil {
		t.Fatal("second wait should fail within the deadline")
	}
	if err := svc.waitSourceRateLimit(context.Background(), "unlimited"); err != nil {
		t.Fatalf("unthrottled source should not wait: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewServiceSkipsNilAndDuplicateSources(t *testing.T) {
	svc := NewService([]Source{nil, &fakeSource{key: "a"}, &fakeSource{key: "a"}, &fakeSource{key: " "}}, 0)
	if len(svc.sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(svc.sources))
	}
	if svc.timeout != 15*time.Second {
		t.Fatalf("expected default timeout, got %v", svc.timeout)
	}
}
