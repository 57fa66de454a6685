package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vodstream/searchservice/internal/domain"
)

func TestSessionRejectsStaleGeneration(t *testing.T) {
	session := NewSession()
	ctxA, genA := session.Begin(context.Background(), "A")
	_, genB := session.Begin(context.Background(), "B")

	if ctxA.Err() == nil {
		t.Fatal("starting B should cancel A")
	}
	if genB <= genA {
		t.Fatalf("generation must increase: %d then %d", genA, genB)
	}

	err := session.Apply(domain.StreamEvent{
		Type:       domain.StreamEventSourceResult,
		Generation: genA,
		Results:    []domain.SearchResultItem{vod("a", "1", "A", "2020", 1)},
	})
	if !errors.Is(err, domain.ErrAggregationCancelled) {
		t.Fatalf("expected ErrAggregationCancelled, got %v", err)
	}

	if err := session.Apply(domain.StreamEvent{Type: domain.StreamEventStart, Generation: genB, TotalSources: 1}); err != nil {
		t.Fatalf("apply start: %v", err)
	}
	if err := session.Apply(domain.StreamEvent{
		Type:       domain.StreamEventSourceResult,
		Generation: genB,
		Results:    []domain.SearchResultItem{vod("a", "2", "B", "2020", 1)},
	}); err != nil {
		t.Fatalf("apply result: %v", err)
	}
	if err := session.Apply(domain.StreamEvent{Type: domain.StreamEventComplete, Generation: genB}); err != nil {
		t.Fatalf("apply complete: %v", err)
	}

	snap := session.Snapshot()
	if snap.Query != "B" || len(snap.Results) != 1 || snap.Results[0].Title != "B" || !snap.Done {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.CompletedSources != 1 || snap.TotalSources != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

// echoSource returns one item titled after the query; "A" is slow.
type echoSource struct{}

func (echoSource) Key() string  { return "echo" }
func (echoSource) Name() string { return "Echo" }

func (echoSource) Search(ctx context.Context, query string) ([]domain.SearchResultItem, error) {
	if query == "A" {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []domain.SearchResultItem{vod("echo", query, query, "2020", 1)}, nil
}

func TestSessionSupersededSearchNeverLeaks(t *testing.T) {
	svc := NewService([]Source{echoSource{}, &fakeSource{key: "other"}}, time.Second, WithCacheDisabled(true))
	session := NewSession()

	consume := func(ctx context.Context, query string, wg *sync.WaitGroup) {
		defer wg.Done()
		for ev := range svc.SearchStream(ctx, query) {
			_ = session.Apply(ev)
		}
	}

	var wg sync.WaitGroup
	ctxA, _ := session.Begin(context.Background(), "A")
	wg.Add(1)
	go consume(ctxA, "A", &wg)

	time.Sleep(20 * time.Millisecond)
	ctxB, _ := session.Begin(context.Background(), "B")
	wg.Add(1)
	go consume(ctxB, "B", &wg)
	wg.Wait()

	snap := session.Snapshot()
	for _, item := range snap.Results {
		if item.Title == "A" {
			t.Fatalf("result from superseded search leaked: %+v", snap.Results)
		}
	}
	if !snap.Done || snap.CompletedSources != 2 {
		t.Fatalf("search B should have completed: %+v", snap)
	}
}

func TestSessionCloseCancels(t *testing.T) {
	session := NewSession()
	ctx, _ := session.Begin(context.Background(), "q")
	session.Close()
	if ctx.Err() == nil {
		t.Fatal("Close should cancel the running search")
	}
}
