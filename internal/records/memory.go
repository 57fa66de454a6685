package records

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"vodstream/searchservice/internal/domain"
)

// Memory stores back the service when no MongoDB is configured.

type MemoryPlayRecords struct {
	mu      sync.RWMutex
	records map[string]domain.PlayRecord
}

func NewMemoryPlayRecords() *MemoryPlayRecords {
	return &MemoryPlayRecords{records: make(map[string]domain.PlayRecord)}
}

func (m *MemoryPlayRecords) All(context.Context) (map[string]domain.PlayRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.records), nil
}

func (m *MemoryPlayRecords) Save(_ context.Context, key string, record domain.PlayRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = record
	return nil
}

func (m *MemoryPlayRecords) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.records, key)
	return nil
}

type MemoryHistory struct {
	mu       sync.RWMutex
	keywords []string
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (m *MemoryHistory) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.keywords...), nil
}

func (m *MemoryHistory) Add(_ context.Context, keyword string) error {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]string, 0, len(m.keywords)+1)
	next = append(next, keyword)
	for _, existing := range m.keywords {
		if existing != keyword {
			next = append(next, existing)
		}
	}
	if len(next) > MaxSearchHistory {
		next = next[:MaxSearchHistory]
	}
	m.keywords = next
	return nil
}

func (m *MemoryHistory) Delete(_ context.Context, keyword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keywords = slices.DeleteFunc(m.keywords, func(existing string) bool {
		return existing == keyword
	})
	return nil
}

func (m *MemoryHistory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keywords = nil
	return nil
}

type MemoryFavorites struct {
	mu        sync.RWMutex
	favorites map[string]domain.Favorite
}

func NewMemoryFavorites() *MemoryFavorites {
	return &MemoryFavorites{favorites: make(map[string]domain.Favorite)}
}

func (m *MemoryFavorites) IsFavorite(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.favorites[key]
	return ok, nil
}

func (m *MemoryFavorites) Save(_ context.Context, key string, favorite domain.Favorite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.favorites[key] = favorite
	return nil
}

func (m *MemoryFavorites) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.favorites[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.favorites, key)
	return nil
}

func (m *MemoryFavorites) All(context.Context) (map[string]domain.Favorite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.favorites), nil
}
