// Package strike remembers recent antispam violations per member so that a
// repeat offense inside the cooldown window escalates. State lives in Redis
// as a counter with a TTL:
//
//	Key:   strike:<guild>:<user>
//	Value: violations inside the current window
//	TTL:   remaining cooldown
package strike

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"
)

// Prefix is the Redis key prefix for strike counters.
const Prefix = "strike:"

// Strike is the state of one member. A zero Count means CLEAN.
type Strike struct {
	Count     int
	ExpiresAt time.Time
}

// Tripped reports whether the member is inside an active cooldown.
func (s Strike) Tripped() bool {
	return s.Count > 0
}

// Store persists strikes. Trip must be a single atomic read-modify-write:
// two concurrent calls for the same key never both observe Count == 1.
type Store interface {
	// Trip records a violation. The window starts on the first violation;
	// when extend is set it restarts on every violation.
	Trip(ctx context.Context, key string, window time.Duration, extend bool) (Strike, error)
	// State returns the current strike; expired strikes read as CLEAN.
	State(ctx context.Context, key string) (Strike, error)
	// Clear resets the member to CLEAN.
	Clear(ctx context.Context, key string) error
}

// tripLua increments the counter and (re)arms the TTL in one round trip.
var tripLua = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or ARGV[2] == '1' then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// RedisStore keeps strikes in Redis.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a strike store using the provided Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Trip(ctx context.Context, key string, window time.Duration, extend bool) (Strike, error) {
	flag := "0"
	if extend {
		flag = "1"
	}
	res, err := tripLua.Run(ctx, s.client, []string{Prefix + key}, window.Milliseconds(), flag).Int64Slice()
	if err != nil {
		return Strike{}, fmt.Errorf("strike: trip: %w", err)
	}
	if len(res) != 2 {
		return Strike{}, fmt.Errorf("strike: trip: unexpected reply %v", res)
	}

	st := Strike{Count: int(res[0])}
	if res[1] > 0 {
		st.ExpiresAt = s.now().Add(time.Duration(res[1]) * time.Millisecond)
	}
	return st, nil
}

func (s *RedisStore) State(ctx context.Context, key string) (Strike, error) {
	k := Prefix + key
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	_, err := pipe.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		return Strike{}, nil
	}
	if err != nil {
		return Strike{}, fmt.Errorf("strike: state: %w", err)
	}

	n, err := get.Int()
	if err != nil {
		return Strike{}, fmt.Errorf("strike: state: %w", err)
	}
	st := Strike{Count: n}
	if d := ttl.Val(); d > 0 {
		st.ExpiresAt = s.now().Add(d)
	}
	return st, nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, Prefix+key).Err(); err != nil {
		return fmt.Errorf("strike: clear: %w", err)
	}
	return nil
}

// MemStore keeps strikes in process. Each member entry has its own lock;
// expired entries are reset lazily on the next access.
type MemStore struct {
	entries *xsync.Map[string, *memEntry]
	now     func() time.Time
}

type memEntry struct {
	mu        sync.Mutex
	count     int
	expiresAt time.Time
	dead      bool // removed from the map; callers must reload
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store. A nil clock uses time.Now.
func NewMemStore(now func() time.Time) *MemStore {
	if now == nil {
		now = time.Now
	}
	return &MemStore{entries: xsync.NewMap[string, *memEntry](), now: now}
}

// lock returns the live entry for key with its mutex held.
func (s *MemStore) lock(key string) *memEntry {
	for {
		e, _ := s.entries.LoadOrCompute(key, func() (*memEntry, bool) {
			return &memEntry{}, false
		})
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

func (e *memEntry) expire(now time.Time) {
	if e.count > 0 && !now.Before(e.expiresAt) {
		e.count = 0
		e.expiresAt = time.Time{}
	}
}

func (s *MemStore) Trip(_ context.Context, key string, window time.Duration, extend bool) (Strike, error) {
	e := s.lock(key)
	defer e.mu.Unlock()

	now := s.now()
	e.expire(now)
	e.count++
	if e.count == 1 || extend {
		e.expiresAt = now.Add(window)
	}
	return Strike{Count: e.count, ExpiresAt: e.expiresAt}, nil
}

func (s *MemStore) State(_ context.Context, key string) (Strike, error) {
	e, ok := s.entries.Load(key)
	if !ok {
		return Strike{}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return Strike{}, nil
	}
	e.expire(s.now())
	return Strike{Count: e.count, ExpiresAt: e.expiresAt}, nil
}

func (s *MemStore) Clear(_ context.Context, key string) error {
	e, ok := s.entries.Load(key)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dead {
		e.dead = true
		s.entries.Delete(key)
	}
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemStore) Sweep() int {
	now := s.now()
	removed := 0
	s.entries.Range(func(key string, e *memEntry) bool {
		e.mu.Lock()
		e.expire(now)
		if !e.dead && e.count == 0 {
			e.dead = true
			s.entries.Delete(key)
			removed++
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of tracked members, including expired ones not
// yet swept.
func (s *MemStore) Len() int {
	return s.entries.Size()
}
