// Package tagbag stores small per-guild settings ("tags") such as the
// trusted role list or modlog webhook URLs. Each guild is a scope; in Redis
// a scope is a single hash:
//
//	Key:   tagbag:<scope>
//	Field: <tag name>
//	Value: JSON-encoded tag value
package tagbag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Prefix is the Redis key prefix for tag hashes.
const Prefix = "tagbag:"

// Store persists raw tag values.
type Store interface {
	Get(ctx context.Context, scope, name string) (string, bool, error)
	Set(ctx context.Context, scope, name, value string) error
	Delete(ctx context.Context, scope, name string) error
	All(ctx context.Context, scope string) (map[string]string, error)
}

// RedisStore keeps tags in one Redis hash per scope.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a tag store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, scope, name string) (string, bool, error) {
	val, err := s.client.HGet(ctx, Prefix+scope, name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("tagbag: get %s/%s: %w", scope, name, err)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, scope, name, value string) error {
	if err := s.client.HSet(ctx, Prefix+scope, name, value).Err(); err != nil {
		return fmt.Errorf("tagbag: set %s/%s: %w", scope, name, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, scope, name string) error {
	if err := s.client.HDel(ctx, Prefix+scope, name).Err(); err != nil {
		return fmt.Errorf("tagbag: delete %s/%s: %w", scope, name, err)
	}
	return nil
}

func (s *RedisStore) All(ctx context.Context, scope string) (map[string]string, error) {
	vals, err := s.client.HGetAll(ctx, Prefix+scope).Result()
	if err != nil {
		return nil, fmt.Errorf("tagbag: all %s: %w", scope, err)
	}
	return vals, nil
}

// MemStore is an in-process Store for tests and single-node deployments.
type MemStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string]string
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{scopes: make(map[string]map[string]string)}
}

func (s *MemStore) Get(_ context.Context, scope, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scopes[scope][name]
	return v, ok, nil
}

func (s *MemStore) Set(_ context.Context, scope, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags, ok := s.scopes[scope]
	if !ok {
		tags = make(map[string]string)
		s.scopes[scope] = tags
	}
	tags[name] = value
	return nil
}

func (s *MemStore) Delete(_ context.Context, scope, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes[scope], name)
	return nil
}

func (s *MemStore) All(_ context.Context, scope string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.scopes[scope]))
	for k, v := range s.scopes[scope] {
		out[k] = v
	}
	return out, nil
}
