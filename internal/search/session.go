package search

import (
	"context"
	"fmt"
	"sync"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/metrics"
)

// Session accumulates the events of one caller's current search. Starting a
// new search cancels the previous one and bumps the generation; events from
// older generations are rejected so they never reach the accumulated state.
type Session struct {
	mu        sync.Mutex
	gen       uint64
	cancel    context.CancelFunc
	query     string
	results   []domain.SearchResultItem
	total     int
	completed int
	failed    int
	done      bool
}

type SessionSnapshot struct {
	Generation       uint64                    `json:"generation"`
	Query            string                    `json:"query"`
	Results          []domain.SearchResultItem `json:"results"`
	TotalSources     int                       `json:"totalSources"`
	CompletedSources int                       `json:"completedSources"`
	FailedSources    int                       `json:"failedSources"`
	Done             bool                      `json:"done"`
}

func NewSession() *Session {
	return &Session{}
}

// Begin supersedes any running search. The returned context is cancelled by
// the next Begin or Close and carries the new generation for SearchStream.
func (s *Session) Begin(parent context.Context, query string) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.query = query
	s.results = nil
	s.total = 0
	s.completed = 0
	s.failed = 0
	s.done = false
	return WithGeneration(ctx, s.gen), s.gen
}

// Apply folds one event into the session. Events from a superseded search
// return domain.ErrAggregationCancelled and change nothing.
func (s *Session) Apply(ev domain.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Generation != s.gen {
		metrics.StaleEventsDropped.Inc()
		return fmt.Errorf("%w: generation %d, current %d", domain.ErrAggregationCancelled, ev.Generation, s.gen)
	}
	switch ev.Type {
	case domain.StreamEventStart:
		s.total = ev.TotalSources
	case domain.StreamEventSourceResult:
		s.completed++
		s.results = append(s.results, ev.Results...)
	case domain.StreamEventSourceError:
		s.completed++
		s.failed++
	case domain.StreamEventComplete:
		s.done = true
	}
	return nil
}

func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		Generation:       s.gen,
		Query:            s.query,
		Results:          append([]domain.SearchResultItem(nil), s.results...),
		TotalSources:     s.total,
		CompletedSources: s.completed,
		FailedSources:    s.failed,
		Done:             s.done,
	}
}

// Close cancels the running search, if any.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
