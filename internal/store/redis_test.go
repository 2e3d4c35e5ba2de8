package store

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis starts an in-process Redis and returns a store over it.
func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, time.Second), mr
}

func TestRedisStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)

	t.Run("miss returns ErrNotFound", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get round-trips with ttl", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", string(got))
		assert.Equal(t, time.Minute, mr.TTL("k"))
	})

	t.Run("set rejects non-positive ttl", func(t *testing.T) {
		require.Error(t, s.Set(ctx, "k0", []byte("v"), 0))
		assert.False(t, mr.Exists("k0"))
	})

	t.Run("setnx only writes once", func(t *testing.T) {
		ok, err := s.SetNX(ctx, "once", []byte("a"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.SetNX(ctx, "once", []byte("b"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		got, _ := mr.Get("once")
		assert.Equal(t, "a", got)
	})

	t.Run("mget aligns missing keys as nil", func(t *testing.T) {
		mr.Set("m1", "one")
		vals, err := s.MGet(ctx, "m1", "m2")
		require.NoError(t, err)
		require.Len(t, vals, 2)
		assert.Equal(t, "one", string(vals[0]))
		assert.Nil(t, vals[1])
	})
}

func TestRedisStore_IncrExpireTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)

	n, err := s.Incr(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ttl, err := s.TTL(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ttl < 0, "fresh counter should have no expiry, got %s", ttl)

	ok, err := s.Expire(ctx, "c", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err = s.TTL(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ttl)

	mr.FastForward(31 * time.Second)
	n, err = s.Incr(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counter should restart after expiry")
}

func TestRedisStore_SortedSet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedis(t)

	require.NoError(t, s.ZAddGT(ctx, "z", "alice", 200))
	// Lower score must not move alice backwards.
	require.NoError(t, s.ZAddGT(ctx, "z", "alice", 100))
	score, err := s.ZScore(ctx, "z", "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(200), score)

	require.NoError(t, s.ZAddGT(ctx, "z", "bob", 50))
	members, err := s.ZRangeByScore(ctx, "z", "(100", "+inf")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	removed, err := s.ZRemRangeByScore(ctx, "z", "-inf", "100")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	card, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(1), card)

	_, err = s.ZScore(ctx, "z", "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_SetGetAndGetDel(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)

	existed, err := s.SetGet(ctx, "k", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = s.SetGet(ctx, "k", []byte("2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	val, err := s.GetDel(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), val)
	assert.False(t, mr.Exists("k"))

	_, err = s.GetDel(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.SetGet(ctx, "k", []byte("1"), 0)
	assert.Error(t, err)
}

func TestRedisStore_PresenceRange(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedis(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.ZAddGT(ctx, PresenceKey("lobby"), "bob", float64(base.Add(time.Second).UnixMilli())))
	require.NoError(t, s.ZAddGT(ctx, PresenceKey("lobby"), "alice", float64(base.UnixMilli())))
	require.NoError(t, s.ZAddGT(ctx, PresenceKey("lobby"), "carol", float64(base.Add(time.Hour).UnixMilli())))

	entries, err := s.PresenceRange(ctx, "lobby", "-inf", strconv.FormatInt(base.Add(time.Minute).UnixMilli(), 10))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, PresenceEntry{RoomID: "lobby", Username: "alice", LastSeenAt: time.UnixMilli(base.UnixMilli())}, entries[0])
	assert.Equal(t, "bob", entries[1].Username)
	assert.True(t, entries[1].LastSeenAt.Equal(base.Add(time.Second)))

	entries, err = s.PresenceRange(ctx, "empty", "-inf", "+inf")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRedisStore_ExistsEachAndDel(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)
	mr.Set("a", "1")
	mr.Set("c", "1")

	got, err := s.ExistsEach(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, got)

	n, err := s.Del(ctx, "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisStore_EachKey(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)
	for _, k := range []string{"token:active:alice:1", "token:active:alice:2", "token:active:bob:1"} {
		mr.Set(k, "x")
	}

	var seen []string
	err := EachKey(ctx, s, ActiveTokenPattern("alice"), 10, func(keys []string) error {
		seen = append(seen, keys...)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"token:active:alice:1", "token:active:alice:2"}, seen)
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)
	mr.Close()

	_, err := s.Get(ctx, "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable), "expected ErrUnavailable, got %v", err)
	assert.False(t, errors.Is(err, ErrNotFound))

	_, err = s.Incr(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, s.CheckHealth(ctx), ErrUnavailable)
}
