package sources

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultOverrideStoreKey = "vodsearch:sources:runtime:v1"

type OverrideState struct {
	Disabled bool `json:"disabled"`
}

// OverrideStore persists runtime enable/disable switches across restarts.
type OverrideStore interface {
	Load(ctx context.Context) (map[string]OverrideState, error)
	Save(ctx context.Context, source string, state OverrideState) error
	Delete(ctx context.Context, source string) error
}

type RedisOverrideStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisOverrideStore(client redis.UniversalClient, key string) *RedisOverrideStore {
	if client == nil {
		return nil
	}
	storeKey := strings.TrimSpace(key)
	if storeKey == "" {
		storeKey = defaultOverrideStoreKey
	}
	return &RedisOverrideStore{client: client, key: storeKey}
}

func (s *RedisOverrideStore) Load(ctx context.Context) (map[string]OverrideState, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	items, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make(map[string]OverrideState, len(items))
	for source, encoded := range items {
		key := strings.TrimSpace(source)
		if key == "" || strings.TrimSpace(encoded) == "" {
			continue
		}
		var state OverrideState
		if err := json.Unmarshal([]byte(encoded), &state); err != nil {
			continue
		}
		out[key] = state
	}
	return out, nil
}

func (s *RedisOverrideStore) Save(ctx context.Context, source string, state OverrideState) error {
	if s == nil || s.client == nil {
		return nil
	}
	key := strings.TrimSpace(source)
	if key == "" {
		return nil
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key, key, payload).Err()
}

func (s *RedisOverrideStore) Delete(ctx context.Context, source string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.HDel(ctx, s.key, strings.TrimSpace(source)).Err()
}
