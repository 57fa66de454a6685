package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"vodstream/searchservice/internal/domain"
)

var ErrUnknownSource = errors.New("unknown source")

// Registry owns the configured source clients and their runtime enabled
// state.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	clients   map[string]*Client
	overrides map[string]OverrideState
	store     OverrideStore
}

func NewRegistry(clients []*Client, store OverrideStore) *Registry {
	r := &Registry{
		clients:   make(map[string]*Client, len(clients)),
		overrides: make(map[string]OverrideState),
		store:     store,
	}
	for _, client := range clients {
		if client == nil || client.Key() == "" {
			continue
		}
		if _, dup := r.clients[client.Key()]; dup {
			continue
		}
		r.order = append(r.order, client.Key())
		r.clients[client.Key()] = client
	}
	return r
}

// LoadOverrides pulls persisted switches from the store. Unknown keys are
// ignored so stale entries do not resurrect removed sources.
func (r *Registry) LoadOverrides(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	loaded, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load source overrides: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, state := range loaded {
		if _, ok := r.clients[key]; ok {
			r.overrides[key] = state
		}
	}
	return nil
}

func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.clients[key])
	}
	return out
}

func (r *Registry) Client(key string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[strings.TrimSpace(key)]
	return client, ok
}

func (r *Registry) Enabled(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabledLocked(key)
}

func (r *Registry) enabledLocked(key string) bool {
	client, ok := r.clients[key]
	if !ok {
		return false
	}
	if state, ok := r.overrides[key]; ok {
		return !state.Disabled
	}
	return !client.source.Disabled
}

func (r *Registry) Infos() []domain.SourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SourceInfo, 0, len(r.order))
	for _, key := range r.order {
		info := r.clients[key].Info()
		info.Enabled = r.enabledLocked(key)
		out = append(out, info)
	}
	return out
}

func (r *Registry) SetEnabled(ctx context.Context, key string, enabled bool) (domain.SourceInfo, error) {
	key = strings.TrimSpace(key)
	r.mu.Lock()
	client, ok := r.clients[key]
	if !ok {
		r.mu.Unlock()
		return domain.SourceInfo{}, fmt.Errorf("%w: %s", ErrUnknownSource, key)
	}
	state := OverrideState{Disabled: !enabled}
	r.overrides[key] = state
	info := client.Info()
	info.Enabled = enabled
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Save(ctx, key, state); err != nil {
			slog.Warn("source override not persisted",
				slog.String("source", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return info, nil
}

// Detail looks up one item on the given source, regardless of whether the
// source is currently enabled for search.
func (r *Registry) Detail(ctx context.Context, sourceKey, id string) (domain.SearchResultItem, error) {
	client, ok := r.Client(sourceKey)
	if !ok {
		return domain.SearchResultItem{}, fmt.Errorf("%w: %s", ErrUnknownSource, sourceKey)
	}
	return client.Detail(ctx, id)
}
