// redis.go -- go-redis client backing the shared store.
//
// RedisStore exposes the small set of primitives the admission layer is built
// from: atomic increment, per-key TTL, plain get/set, sorted sets, and cursor
// scanning. Every call carries its own deadline; any failure other than a
// clean miss is wrapped in ErrUnavailable.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultOpTimeout bounds a single store round-trip when none is configured.
const DefaultOpTimeout = 2 * time.Second

// RedisStore wraps a Redis client for shared-state operations.
type RedisStore struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewRedisClient parses redisURL, connects, and pings to verify connectivity.
// Call once at startup; the returned client is shared by every Redis-backed struct.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	// Per-call deadlines from op must bound socket reads, not just pool waits.
	opt.ContextTimeoutEnabled = true
	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	return rdb, nil
}

// NewRedisStore wraps rdb. timeout <= 0 uses DefaultOpTimeout.
// The returned store is safe for concurrent use.
func NewRedisStore(rdb *redis.Client, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	return &RedisStore{rdb: rdb, timeout: timeout}
}

// Client exposes the underlying client for pub/sub and queue consumers.
func (s *RedisStore) Client() *redis.Client { return s.rdb }

func (s *RedisStore) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// unavailable tags err as a store failure while keeping the cause inspectable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// CheckHealth pings Redis.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Get returns the raw value at key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get", err)
	}
	return raw, nil
}

// MGet returns values aligned with keys; missing keys yield nil entries.
func (s *RedisStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("mget", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[i] = []byte(str)
		}
	}
	return out, nil
}

// Set writes value at key with ttl. ttl must be positive; Redis treats 0 as no expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("set %s: ttl must be positive, got %s", key, ttl)
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// GetDel returns the value at key and deletes it atomically, or ErrNotFound.
// Of several concurrent callers, exactly one receives the value.
func (s *RedisStore) GetDel(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	val, err := s.rdb.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable("getdel", err)
	}
	return val, nil
}

// SetGet writes value at key with ttl and reports whether key held a value
// beforehand, in one atomic SET ... GET.
func (s *RedisStore) SetGet(ctx context.Context, key string, value []byte, ttl time.Duration) (existed bool, err error) {
	if ttl <= 0 {
		return false, fmt.Errorf("setget %s: ttl must be positive, got %s", key, ttl)
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	err = s.rdb.SetArgs(ctx, key, value, redis.SetArgs{TTL: ttl, Get: true}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, unavailable("setget", err)
	}
	return true, nil
}

// SetNX writes value only when key is absent. Returns whether it was written.
func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("setnx %s: ttl must be positive, got %s", key, ttl)
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable("setnx", err)
	}
	return ok, nil
}

// SetPersistent writes value at key with no expiry.
func (s *RedisStore) SetPersistent(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Del removes keys in one command and returns how many existed.
func (s *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, unavailable("del", err)
	}
	return n, nil
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n == 1, nil
}

// ExistsEach reports presence per key, aligned with keys, in one pipelined round-trip.
func (s *RedisStore) ExistsEach(ctx context.Context, keys []string) ([]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Exists(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("exists", err)
	}
	out := make([]bool, len(keys))
	for i, c := range cmds {
		out[i] = c.Val() == 1
	}
	return out, nil
}

// Incr atomically increments key and returns the post-increment value.
// A missing key starts at 0, so the first hit returns 1.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, unavailable("incr", err)
	}
	return n, nil
}

// Expire sets key's TTL. Returns false if key does not exist.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	ok, err := s.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, unavailable("expire", err)
	}
	return ok, nil
}

// TTL returns key's remaining time to live.
// Negative values follow Redis: -1 no expiry, -2 missing key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	d, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	return d, nil
}

// ZAddGT sets member's score only when the new score is greater (or member is new),
// keeping scores monotonically non-decreasing.
func (s *RedisStore) ZAddGT(ctx context.Context, key, member string, score float64) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	if err := s.rdb.ZAddGT(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return unavailable("zadd", err)
	}
	return nil
}

// ZRem removes members from the sorted set at key.
func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	n, err := s.rdb.ZRem(ctx, key, args...).Result()
	if err != nil {
		return 0, unavailable("zrem", err)
	}
	return n, nil
}

// ZRangeByScore returns members with lo <= score <= hi, ascending.
// lo/hi use Redis score syntax ("-inf", "(123", "+inf").
func (s *RedisStore) ZRangeByScore(ctx context.Context, key, lo, hi string) ([]string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	members, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return nil, unavailable("zrangebyscore", err)
	}
	return members, nil
}

// PresenceRange returns roomID's live-set entries with lo <= score <= hi, oldest first.
// lo/hi use Redis score syntax.
func (s *RedisStore) PresenceRange(ctx context.Context, roomID, lo, hi string) ([]PresenceEntry, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	zs, err := s.rdb.ZRangeByScoreWithScores(ctx, PresenceKey(roomID), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return nil, unavailable("zrangebyscore", err)
	}
	entries := make([]PresenceEntry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, PresenceEntry{
			RoomID:     roomID,
			Username:   member,
			LastSeenAt: time.UnixMilli(int64(z.Score)),
		})
	}
	return entries, nil
}

// ZScore returns member's score, or ErrNotFound.
func (s *RedisStore) ZScore(ctx context.Context, key, member string) (float64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	score, err := s.rdb.ZScore(ctx, key, member).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrNotFound
		}
		return 0, unavailable("zscore", err)
	}
	return score, nil
}

// ZRemRangeByScore atomically removes members with lo <= score <= hi.
// Scores are compared at removal time, so members refreshed since a scan began survive.
func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key, lo, hi string) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	n, err := s.rdb.ZRemRangeByScore(ctx, key, lo, hi).Result()
	if err != nil {
		return 0, unavailable("zremrangebyscore", err)
	}
	return n, nil
}

// ZCard returns the sorted set's size.
func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	n, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, unavailable("zcard", err)
	}
	return n, nil
}

// Scan is one SCAN step. Satisfies Scanner.
func (s *RedisStore) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	keys, next, err := s.rdb.Scan(ctx, cursor, match, count).Result()
	if err != nil {
		return nil, 0, unavailable("scan", err)
	}
	return keys, next, nil
}
