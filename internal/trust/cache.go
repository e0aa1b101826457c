package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/metrics"
)

// CacheStore is a string cache with a store-wide TTL. Get returns "" on a
// miss.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string) error
	Purge(ctx context.Context, key string) error
}

// MemCacheStore keeps entries in a bounded, expiring LRU.
type MemCacheStore struct {
	Data *expirable.LRU[string, string]
}

var _ CacheStore = MemCacheStore{}

func NewMemCacheStore(capacity int, ttl time.Duration) MemCacheStore {
	return MemCacheStore{
		Data: expirable.NewLRU[string, string](capacity, nil, ttl),
	}
}

func (s MemCacheStore) Get(_ context.Context, key string) (string, error) {
	v, ok := s.Data.Get(key)
	if !ok {
		return "", nil
	}
	return v, nil
}

func (s MemCacheStore) Set(_ context.Context, key, val string) error {
	s.Data.Add(key, val)
	return nil
}

func (s MemCacheStore) Purge(_ context.Context, key string) error {
	s.Data.Remove(key)
	return nil
}

// RedisCacheStore shares entries across replicas through Redis with a small
// local TinyLFU tier in front. The local tier is not purged by other
// processes, so its TTL is capped at LocalTTL.
type RedisCacheStore struct {
	Data *cache.Cache
	TTL  time.Duration
}

var _ CacheStore = (*RedisCacheStore)(nil)

// LocalTTL bounds how long a replica may serve an entry another process
// has purged.
const LocalTTL = 10 * time.Second

func NewRedisCacheStore(rdb *redis.Client, ttl time.Duration) *RedisCacheStore {
	return &RedisCacheStore{
		Data: cache.New(&cache.Options{
			Redis:      rdb,
			LocalCache: cache.NewTinyLFU(10_000, min(ttl, LocalTTL)),
		}),
		TTL: ttl,
	}
}

func redisCacheKey(key string) string {
	return "cache/trust/" + key
}

func (s *RedisCacheStore) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := s.Data.Get(ctx, redisCacheKey(key), &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, key, val string) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisCacheKey(key),
		Value: val,
		TTL:   s.TTL,
	})
}

func (s *RedisCacheStore) Purge(ctx context.Context, key string) error {
	err := s.Data.Delete(ctx, redisCacheKey(key))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}

// CachedRoles memoises a RoleStore per guild. Edits made through it write
// through and purge the guild's entry. Cache failures fall through to the
// store.
type CachedRoles struct {
	store  *RoleStore
	cache  CacheStore
	logger *zap.Logger
}

var _ RoleSource = (*CachedRoles)(nil)

func NewCachedRoles(store *RoleStore, c CacheStore, logger *zap.Logger) *CachedRoles {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRoles{store: store, cache: c, logger: logger.Named("trust")}
}

func rolesCacheKey(guildID string) string {
	return "roles:" + guildID
}

func (c *CachedRoles) TrustedRoles(ctx context.Context, guildID string) ([]string, error) {
	key := rolesCacheKey(guildID)
	if v, err := c.cache.Get(ctx, key); err == nil && v != "" {
		var roles []string
		if err := json.Unmarshal([]byte(v), &roles); err == nil {
			return roles, nil
		}
	}

	roles, err := c.store.TrustedRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []string{}
	}
	data, err := json.Marshal(roles)
	if err != nil {
		return nil, fmt.Errorf("trust: encode roles: %w", err)
	}
	if err := c.cache.Set(ctx, key, string(data)); err != nil {
		metrics.StoreErrors.WithLabelValues("trust_cache").Inc()
		c.logger.Warn("caching trusted roles", zap.String("guild", guildID), zap.Error(err))
	}
	return roles, nil
}

func (c *CachedRoles) AddTrustedRole(ctx context.Context, guildID, role string) error {
	if err := c.store.AddTrustedRole(ctx, guildID, role); err != nil {
		return err
	}
	return c.invalidate(ctx, guildID)
}

func (c *CachedRoles) RemoveTrustedRole(ctx context.Context, guildID, role string) error {
	if err := c.store.RemoveTrustedRole(ctx, guildID, role); err != nil {
		return err
	}
	return c.invalidate(ctx, guildID)
}

func (c *CachedRoles) invalidate(ctx context.Context, guildID string) error {
	if err := c.cache.Purge(ctx, rolesCacheKey(guildID)); err != nil {
		return fmt.Errorf("trust: purge cached roles: %w", err)
	}
	return nil
}
