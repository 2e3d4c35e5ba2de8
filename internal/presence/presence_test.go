package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MGallo-Code/roomgate/internal/clock"
	"github.com/MGallo-Code/roomgate/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTTL = 60 * time.Second

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) PublishPresence(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	tr  *Tracker
	kv  *store.RedisStore
	mr  *miniredis.Miniredis
	clk *clock.Fake
	pub *recordingPublisher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	kv := store.NewRedisStore(rdb, time.Second)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	return fixture{tr: New(kv, testTTL, clk, pub), kv: kv, mr: mr, clk: clk, pub: pub}
}

func (f fixture) advance(d time.Duration) {
	f.clk.Advance(d)
	f.mr.FastForward(d)
}

func (f fixture) active(t *testing.T, room string) []string {
	t.Helper()
	users, err := f.tr.ActiveUsers(context.Background(), room)
	require.NoError(t, err)
	return users
}

func TestMarkPresent_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for range 5 {
		require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	}
	assert.Equal(t, []string{"alice"}, f.active(t, "lobby"))

	members, err := f.mr.ZMembers(store.PresenceKey("lobby"))
	require.NoError(t, err)
	assert.Len(t, members, 1)

	n, err := f.tr.Count(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{EventJoin}, f.pub.types())
}

func TestMarkPresent_PublishesOnlyOnJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	f.advance(5 * time.Second)
	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	assert.Equal(t, []string{EventJoin}, f.pub.types(), "second heartbeat publishes nothing")

	// Once the TTL lapses the next heartbeat is a fresh join.
	f.advance(testTTL + time.Second)
	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	assert.Equal(t, []string{EventJoin, EventJoin}, f.pub.types())
}

func TestMarkPresent_LastSeenMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	first, err := f.mr.ZScore(store.PresenceKey("lobby"), "alice")
	require.NoError(t, err)

	// A heartbeat stamped earlier (clock skew between instances) must not rewind.
	f.clk.Advance(-10 * time.Second)
	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	again, err := f.mr.ZScore(store.PresenceKey("lobby"), "alice")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	f.clk.Advance(20 * time.Second)
	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	later, err := f.mr.ZScore(store.PresenceKey("lobby"), "alice")
	require.NoError(t, err)
	assert.Greater(t, later, first)
}

func TestActiveUsers_ExpiresBeforeReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	f.advance(30 * time.Second)
	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "bob"))
	assert.Equal(t, []string{"alice", "bob"}, f.active(t, "lobby"))

	f.advance(31 * time.Second)
	assert.Equal(t, []string{"bob"}, f.active(t, "lobby"))

	// Still physically present until reconciled.
	members, err := f.mr.ZMembers(store.PresenceKey("lobby"))
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestActiveUsers_LapsedTTLKeyExcluded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "bob"))
	f.mr.Del(store.PresenceTTLKey("lobby", "alice"))

	assert.Equal(t, []string{"bob"}, f.active(t, "lobby"))
}

func TestActiveUsers_EmptyRoom(t *testing.T) {
	f := newFixture(t)
	users := f.active(t, "nobody-here")
	assert.NotNil(t, users)
	assert.Empty(t, users)
}

func TestMarkAbsent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "bob"))
	require.NoError(t, f.tr.MarkAbsent(ctx, "lobby", "alice"))

	assert.Equal(t, []string{"bob"}, f.active(t, "lobby"))
	assert.False(t, f.mr.Exists(store.PresenceTTLKey("lobby", "alice")))
	n, err := f.tr.Count(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Leaving twice is harmless and announced once.
	require.NoError(t, f.tr.MarkAbsent(ctx, "lobby", "alice"))
	assert.Equal(t, []string{EventJoin, EventJoin, EventLeave}, f.pub.types())
}

func TestCount_ComputedOnMiss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "bob"))
	f.mr.Del(store.PresenceCountKey("lobby"))

	n, err := f.tr.Count(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	cached, err := f.mr.Get(store.PresenceCountKey("lobby"))
	require.NoError(t, err)
	assert.Equal(t, "2", cached)

	require.NoError(t, f.mr.Set(store.PresenceCountKey("lobby"), "garbage"))
	n, err = f.tr.Count(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	require.NoError(t, f.tr.MarkPresent(ctx, "games", "carol"))
	f.advance(45 * time.Second)
	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "bob"))
	f.advance(20 * time.Second)

	// The cached counts are stale now: alice and carol have lapsed.
	res, err := f.tr.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Rooms: 2, Scanned: 3, Removed: 2}, res)

	members, err := f.mr.ZMembers(store.PresenceKey("lobby"))
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)

	lobby, err := f.mr.Get(store.PresenceCountKey("lobby"))
	require.NoError(t, err)
	assert.Equal(t, "1", lobby)
	games, err := f.mr.Get(store.PresenceCountKey("games"))
	require.NoError(t, err)
	assert.Equal(t, "0", games)

	t.Run("second pass removes nothing", func(t *testing.T) {
		res, err := f.tr.Reconcile(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Removed)
	})
}

// heartbeatOnCard refreshes a member between the scan and the purge.
type heartbeatOnCard struct {
	*store.RedisStore
	beat func()
	once sync.Once
}

func (h *heartbeatOnCard) ZCard(ctx context.Context, key string) (int64, error) {
	h.once.Do(h.beat)
	return h.RedisStore.ZCard(ctx, key)
}

func TestReconcile_KeepsEntryRefreshedMidPass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	f.advance(2 * testTTL)

	kv := &heartbeatOnCard{RedisStore: f.kv}
	tr := New(kv, testTTL, f.clk, nil)
	kv.beat = func() { require.NoError(t, tr.MarkPresent(ctx, "lobby", "alice")) }

	res, err := tr.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Removed)
	assert.Equal(t, []string{"alice"}, f.active(t, "lobby"))
}

func TestReconcile_PublishesLeave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	f.advance(45 * time.Second)
	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "bob"))
	f.advance(20 * time.Second)

	res, err := f.tr.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Removed)

	f.pub.mu.Lock()
	events := append([]Event(nil), f.pub.events...)
	f.pub.mu.Unlock()
	require.Len(t, events, 3)
	leave := events[2]
	assert.Equal(t, EventLeave, leave.Type)
	assert.Equal(t, "lobby", leave.RoomID)
	assert.Equal(t, "alice", leave.Username)
	assert.Equal(t, f.clk.Now(), leave.At)

	// Nothing left to purge, nothing more to announce.
	_, err = f.tr.Reconcile(ctx)
	require.NoError(t, err)
	assert.Len(t, f.pub.types(), 3)
}

// heartbeatOnPurge refreshes a member after the stale range was read.
type heartbeatOnPurge struct {
	*store.RedisStore
	beat func()
	once sync.Once
}

func (h *heartbeatOnPurge) ZRemRangeByScore(ctx context.Context, key, lo, hi string) (int64, error) {
	h.once.Do(h.beat)
	return h.RedisStore.ZRemRangeByScore(ctx, key, lo, hi)
}

func TestReconcile_NoLeaveForMemberRefreshedMidPass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "alice"))
	require.NoError(t, f.tr.MarkPresent(ctx, "lobby", "bob"))
	f.advance(2 * testTTL)

	kv := &heartbeatOnPurge{RedisStore: f.kv}
	tr := New(kv, testTTL, f.clk, f.pub)
	kv.beat = func() { require.NoError(t, tr.MarkPresent(ctx, "lobby", "alice")) }

	res, err := tr.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, []string{"alice"}, f.active(t, "lobby"))

	var leaves []string
	f.pub.mu.Lock()
	for _, ev := range f.pub.events {
		if ev.Type == EventLeave {
			leaves = append(leaves, ev.Username)
		}
	}
	f.pub.mu.Unlock()
	assert.Equal(t, []string{"bob"}, leaves)
}

func TestStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mr.Close()

	assert.ErrorIs(t, f.tr.MarkPresent(ctx, "lobby", "alice"), store.ErrUnavailable)
	_, err := f.tr.ActiveUsers(ctx, "lobby")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	_, err = f.tr.Reconcile(ctx)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestPublishFailureDoesNotFailHeartbeat(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("gateway down")
	require.NoError(t, f.tr.MarkPresent(context.Background(), "lobby", "alice"))
	assert.Equal(t, []string{"alice"}, f.active(t, "lobby"))
}

func TestReconciler_Run(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tr.MarkPresent(context.Background(), "lobby", "alice"))
	f.advance(2 * testTTL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewReconciler(f.tr, 5*time.Millisecond).Run(ctx) }()

	require.Eventually(t, func() bool {
		members, _ := f.mr.ZMembers(store.PresenceKey("lobby"))
		return len(members) == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}

// captureLogs routes the default logger into a buffer for the test's duration.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func logRecord(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		if rec["msg"] == msg {
			return rec
		}
	}
	t.Fatalf("no %q log record in %s", msg, buf.String())
	return nil
}

type brokenEntropy struct{}

func (brokenEntropy) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestReconciler_RunOnceTagsRun(t *testing.T) {
	buf := captureLogs(t)
	f := newFixture(t)

	_, err := NewReconciler(f.tr, time.Minute).RunOnce(context.Background())
	require.NoError(t, err)

	id, err := uuid.FromString(logRecord(t, buf, "presence reconciled")["run"].(string))
	require.NoError(t, err)
	assert.Equal(t, byte(uuid.V7), id.Version())
}

func TestReconciler_RunIDFailureStillReconciles(t *testing.T) {
	buf := captureLogs(t)
	f := newFixture(t)
	require.NoError(t, f.tr.MarkPresent(context.Background(), "lobby", "alice"))
	f.advance(2 * testTTL)

	r := NewReconciler(f.tr, time.Minute)
	r.ids = uuid.NewGenWithOptions(uuid.WithRandomReader(brokenEntropy{}))
	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)

	assert.Contains(t, logRecord(t, buf, "presence reconcile run id unavailable")["error"], "entropy exhausted")
	assert.Equal(t, "", logRecord(t, buf, "presence reconciled")["run"])
}
