// Package redisstore keeps the delivery engine's rate windows and dedup keys
// in Redis. Both are short-lived counters that expire on their own, which
// suits Redis better than the relational store; records, events and
// preferences stay in the primary store.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
)

// incrementBelow reads the counter, refuses when it reached the limit and
// otherwise increments it. The first increment sets the expiry.
var incrementBelow = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if limit > 0 and current >= limit then
	return {current, 0}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {current, 1}
`)

// releaseOwned deletes the key only while it still holds the caller's value.
var releaseOwned = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store implements delivery.WindowStore and delivery.DedupStore.
type Store struct {
	client redis.UniversalClient
	prefix string
	retain time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix sets the namespace prepended to every key. Default "notify:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithRetention sets how long a window counter outlives its window end, so
// late readers still see the final count. Default one hour.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.retain = d
		}
	}
}

// New creates a store over client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: "notify:", retain: time.Hour}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Overlay returns base with the window and dedup stores replaced by s.
func (s *Store) Overlay(base delivery.Stores) delivery.Stores {
	base.Windows = s
	base.Dedup = s
	return base
}

func (s *Store) IncrementBelow(ctx context.Context, key delivery.WindowKey, limit int64, now time.Time) (int64, bool, error) {
	ttl := key.End().Sub(now) + s.retain
	if ttl <= 0 {
		ttl = time.Second
	}

	res, err := incrementBelow.Run(ctx, s.client, []string{s.windowKey(key)}, limit, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redisstore: increment window: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("redisstore: increment window: unexpected reply %v", res)
	}
	return res[0], res[1] == 1, nil
}

func (s *Store) WindowCount(ctx context.Context, key delivery.WindowKey) (int64, error) {
	count, err := s.client.Get(ctx, s.windowKey(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redisstore: window count: %w", err)
	}
	return count, nil
}

func (s *Store) ReserveDedup(ctx context.Context, key string, ch delivery.Channel, id uuid.UUID, _ time.Time, window time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.dedupKey(key, ch), id.String(), window).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: reserve dedup key: %w", err)
	}
	return ok, nil
}

func (s *Store) ReleaseDedup(ctx context.Context, key string, ch delivery.Channel, id uuid.UUID) error {
	if err := releaseOwned.Run(ctx, s.client, []string{s.dedupKey(key, ch)}, id.String()).Err(); err != nil {
		return fmt.Errorf("redisstore: release dedup key: %w", err)
	}
	return nil
}

func (s *Store) windowKey(key delivery.WindowKey) string {
	return s.prefix + "rl:" + key.String()
}

func (s *Store) dedupKey(key string, ch delivery.Channel) string {
	return s.prefix + "dedup:" + string(ch) + ":" + strings.TrimSpace(key)
}

var (
	_ delivery.WindowStore = (*Store)(nil)
	_ delivery.DedupStore  = (*Store)(nil)
)
