package records

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"vodstream/searchservice/internal/domain"
)

// ---------------------------------------------------------------------------
// Bus
// ---------------------------------------------------------------------------

func TestBusDeliversToTopicSubscribers(t *testing.T) {
	bus := NewBus()
	var got []Event
	bus.Subscribe(TopicFavoritesUpdated, func(ev Event) { got = append(got, ev) })
	bus.Subscribe(TopicPlayRecordsUpdated, func(Event) { t.Fatal("wrong topic delivered") })

	bus.Publish(TopicFavoritesUpdated, 42)
	if len(got) != 1 || got[0].Topic != TopicFavoritesUpdated || got[0].Payload != 42 {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsubscribe := bus.Subscribe(TopicSearchHistoryUpdated, func(Event) { calls++ })
	bus.Publish(TopicSearchHistoryUpdated, nil)
	unsubscribe()
	unsubscribe()
	bus.Publish(TopicSearchHistoryUpdated, nil)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestBusSurvivesPanickingSubscriber(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.Subscribe(TopicFavoritesUpdated, func(Event) { panic("boom") })
	bus.Subscribe(TopicFavoritesUpdated, func(Event) { delivered = true })

	bus.Publish(TopicFavoritesUpdated, nil)
	if !delivered {
		t.Fatal("healthy subscriber should still receive the event")
	}
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	count := 0
	bus.Subscribe(TopicPlayRecordsUpdated, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(TopicPlayRecordsUpdated, nil)
		}()
	}
	wg.Wait()
	if count != 20 {
		t.Fatalf("expected 20 deliveries, got %d", count)
	}
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func TestMemoryHistoryMovesToFrontAndTrims(t *testing.T) {
	history := NewMemoryHistory()
	ctx := context.Background()
	for i := range MaxSearchHistory + 5 {
		_ = history.Add(ctx, "kw"+strconv.Itoa(i))
	}
	_ = history.Add(ctx, "kw10")

	list, _ := history.List(ctx)
	if len(list) != MaxSearchHistory {
		t.Fatalf("expected %d keywords, got %d", MaxSearchHistory, len(list))
	}
	if list[0] != "kw10" || list[1] != "kw24" {
		t.Fatalf("unexpected order: %v", list[:3])
	}
	seen := map[string]bool{}
	for _, kw := range list {
		if seen[kw] {
			t.Fatalf("duplicate keyword %q", kw)
		}
		seen[kw] = true
	}
}

func TestServiceHistoryPublishes(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	var published [][]string
	svc.Bus().Subscribe(TopicSearchHistoryUpdated, func(ev Event) {
		published = append(published, ev.Payload.([]string))
	})
	ctx := context.Background()

	if _, err := svc.AddHistory(ctx, " Inception "); err != nil {
		t.Fatalf("AddHistory: %v", err)
	}
	if _, err := svc.AddHistory(ctx, "Dark"); err != nil {
		t.Fatalf("AddHistory: %v", err)
	}
	list, err := svc.DeleteHistory(ctx, "Inception")
	if err != nil || len(list) != 1 || list[0] != "Dark" {
		t.Fatalf("DeleteHistory: %v %v", list, err)
	}
	list, err = svc.DeleteHistory(ctx, "")
	if err != nil || len(list) != 0 {
		t.Fatalf("clear: %v %v", list, err)
	}
	if len(published) != 4 {
		t.Fatalf("expected 4 publications, got %d", len(published))
	}
	if published[1][0] != "Dark" || published[1][1] != "Inception" {
		t.Fatalf("unexpected payload: %v", published[1])
	}

	if _, err := svc.AddHistory(ctx, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSuggest(t *testing.T) {
	history := []string{"the dark knight", "dark", "inception", "Darkest Hour"}

	got := Suggest(history, "dark", 10)
	want := []string{"dark", "Darkest Hour", "the dark knight"}
	if len(got) != len(want) {
		t.Fatalf("Suggest = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Suggest = %v, want %v", got, want)
		}
	}

	if got := Suggest(history, "", 2); len(got) != 2 || got[0] != "the dark knight" {
		t.Fatalf("empty query should return recent history, got %v", got)
	}
	if got := Suggest(history, "dk", 1); len(got) != 1 {
		t.Fatalf("limit not applied: %v", got)
	}
}

// ---------------------------------------------------------------------------
// Play records & favorites
// ---------------------------------------------------------------------------

func TestServicePlayRecordsRequireCompositeKey(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	ctx := context.Background()
	if err := svc.SavePlayRecord(ctx, "noplus", domain.PlayRecord{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	var payload map[string]domain.PlayRecord
	svc.Bus().Subscribe(TopicPlayRecordsUpdated, func(ev Event) {
		payload = ev.Payload.(map[string]domain.PlayRecord)
	})
	if err := svc.SavePlayRecord(ctx, "alpha+1", domain.PlayRecord{Title: "A"}); err != nil {
		t.Fatalf("SavePlayRecord: %v", err)
	}
	if payload["alpha+1"].Title != "A" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if err := svc.DeletePlayRecord(ctx, "alpha+2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceFavorites(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	ctx := context.Background()
	published := 0
	svc.Bus().Subscribe(TopicFavoritesUpdated, func(Event) { published++ })

	if err := svc.SaveFavorite(ctx, "beta+9", domain.Favorite{Title: "B"}); err != nil {
		t.Fatalf("SaveFavorite: %v", err)
	}
	if ok, _ := svc.IsFavorite(ctx, "beta+9"); !ok {
		t.Fatal("expected favorite")
	}
	if err := svc.DeleteFavorite(ctx, "beta+9"); err != nil {
		t.Fatalf("DeleteFavorite: %v", err)
	}
	if ok, _ := svc.IsFavorite(ctx, "beta+9"); ok {
		t.Fatal("expected favorite removed")
	}
	if published != 2 {
		t.Fatalf("expected 2 publications, got %d", published)
	}
}

// ---------------------------------------------------------------------------
// Refresher
// ---------------------------------------------------------------------------

type fakeDetails struct {
	mu       sync.Mutex
	enabled  map[string]bool
	episodes map[string]int
	errs     map[string][]error
	calls    map[string]int
}

func (f *fakeDetails) Enabled(key string) bool { return f.enabled[key] }

func (f *fakeDetails) Detail(_ context.Context, source, id string) (domain.SearchResultItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := domain.RecordKey(source, id)
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[key]++
	if queue := f.errs[key]; len(queue) > 0 {
		f.errs[key] = queue[1:]
		return domain.SearchResultItem{}, queue[0]
	}
	n, ok := f.episodes[key]
	if !ok {
		return domain.SearchResultItem{}, domain.ErrNotFound
	}
	episodes := make([]string, n)
	for i := range episodes {
		episodes[i] = "https://cdn.example.com/" + strconv.Itoa(i) + ".m3u8"
	}
	return domain.SearchResultItem{ID: id, Source: source, Episodes: episodes}, nil
}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestRefresherReport(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	ctx := context.Background()
	_ = svc.plays.Save(ctx, "alpha+1", domain.PlayRecord{Title: "Grows", TotalEpisodes: 10, SaveTime: 1})
	_ = svc.plays.Save(ctx, "alpha+2", domain.PlayRecord{Title: "Same", TotalEpisodes: 8})
	_ = svc.plays.Save(ctx, "gone+3", domain.PlayRecord{Title: "Orphan", TotalEpisodes: 1})
	_ = svc.plays.Save(ctx, "alpha+4", domain.PlayRecord{Title: "Missing", TotalEpisodes: 1})
	_ = svc.plays.Save(ctx, "alpha+5", domain.PlayRecord{Title: "Flaky", TotalEpisodes: 1})

	details := &fakeDetails{
		enabled:  map[string]bool{"alpha": true},
		episodes: map[string]int{"alpha+1": 12, "alpha+2": 8, "alpha+5": 2},
		errs:     map[string][]error{"alpha+5": {errors.New("timeout")}},
	}
	refresher := NewRefresher(svc, details, WithRetryBackOff(zeroBackOff))
	refresher.now = func() time.Time { return time.UnixMilli(99) }

	published := 0
	svc.Bus().Subscribe(TopicPlayRecordsUpdated, func(Event) { published++ })

	report, err := refresher.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if report.Total != 5 || report.Updated != 2 || report.Failed != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	want := []string{
		"Grows: 10 → 12",
		"Same: no new episodes",
		"Missing: fetch failed",
		"Flaky: 1 → 2",
		"Orphan: invalid source",
	}
	for i, msg := range want {
		if report.Messages[i] != msg {
			t.Fatalf("message %d = %q, want %q (all: %v)", i, report.Messages[i], msg, report.Messages)
		}
	}

	all, _ := svc.PlayRecords(ctx)
	if got := all["alpha+1"]; got.TotalEpisodes != 12 || got.SaveTime != 99 {
		t.Fatalf("record not updated: %+v", got)
	}
	if got := all["alpha+2"]; got.SaveTime != 0 {
		t.Fatalf("unchanged record should keep its save time: %+v", got)
	}
	if details.calls["alpha+4"] != 1 {
		t.Fatalf("not found must not be retried, got %d calls", details.calls["alpha+4"])
	}
	if details.calls["alpha+5"] != 2 {
		t.Fatalf("transient error should be retried once, got %d calls", details.calls["alpha+5"])
	}
	if published != 1 {
		t.Fatalf("expected one publication, got %d", published)
	}
}

func TestRefresherNoRecords(t *testing.T) {
	refresher := NewRefresher(NewService(nil, nil, nil, nil), &fakeDetails{})
	report, err := refresher.Refresh(context.Background())
	if err != nil || report.Total != 0 || report.Message == "" {
		t.Fatalf("unexpected report: %+v %v", report, err)
	}
}
