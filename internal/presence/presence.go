// presence.go
//
// PresenceTracker. Each room has a sorted live set (presence:{room}) scored by
// lastSeenAt in unix milliseconds, a companion TTL key per member
// (presence:ttl:{room}:{user}), and a cached user-count (presence:count:{room}).
// The live set is authoritative; the count is derived and resynced by Reconcile.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/MGallo-Code/roomgate/internal/clock"
	"github.com/MGallo-Code/roomgate/internal/store"
)

// DefaultTTL is the inactivity window used when none is configured.
const DefaultTTL = 60 * time.Second

// scanBatch is the SCAN COUNT hint for Reconcile.
const scanBatch = 100

// Event types published on presence changes.
const (
	EventJoin  = "presence.join"
	EventLeave = "presence.leave"
)

// Event is one presence change, handed to the Publisher after the store write succeeds.
type Event struct {
	Type     string    `json:"type"`
	RoomID   string    `json:"roomId"`
	Username string    `json:"username"`
	At       time.Time `json:"at"`
}

// Publisher delivers presence events to realtime subscribers.
// Implemented by fanout.RedisPublisher; delivery is best-effort.
type Publisher interface {
	PublishPresence(ctx context.Context, ev Event) error
}

// KV is the slice of the shared store the tracker needs.
// Satisfied by *store.RedisStore.
type KV interface {
	store.Scanner
	Get(ctx context.Context, key string) ([]byte, error)
	SetGet(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	SetPersistent(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, keys ...string) (int64, error)
	ExistsEach(ctx context.Context, keys []string) ([]bool, error)
	ZAddGT(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZRangeByScore(ctx context.Context, key, lo, hi string) ([]string, error)
	ZScore(ctx context.Context, key, member string) (float64, error)
	PresenceRange(ctx context.Context, roomID, lo, hi string) ([]store.PresenceEntry, error)
	ZRemRangeByScore(ctx context.Context, key, lo, hi string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
}

// ReconcileResult summarizes one Reconcile pass.
type ReconcileResult struct {
	Rooms   int `json:"rooms"`
	Scanned int `json:"scanned"`
	Removed int `json:"removed"`
}

// Tracker records room presence.
type Tracker struct {
	kv    KV
	ttl   time.Duration
	clock clock.Clock
	pub   Publisher
}

// New returns a Tracker. ttl <= 0 uses DefaultTTL; nil clk uses clock.Real();
// nil pub disables event publishing.
func New(kv KV, ttl time.Duration, clk clock.Clock, pub Publisher) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Tracker{kv: kv, ttl: ttl, clock: clk, pub: pub}
}

// MarkPresent records a heartbeat for username in roomID. Repeated calls
// leave a single entry whose lastSeenAt never moves backwards. A join event is
// published only when the member was absent or had lapsed before this call.
func (t *Tracker) MarkPresent(ctx context.Context, roomID, username string) error {
	now := t.clock.Now()
	if err := t.kv.ZAddGT(ctx, store.PresenceKey(roomID), username, float64(now.UnixMilli())); err != nil {
		return fmt.Errorf("recording heartbeat: %w", err)
	}
	// The TTL key outlives no heartbeat by more than ttl, so its prior absence marks a join.
	stamp := []byte(strconv.FormatInt(now.UnixMilli(), 10))
	wasPresent, err := t.kv.SetGet(ctx, store.PresenceTTLKey(roomID, username), stamp, t.ttl)
	if err != nil {
		return fmt.Errorf("refreshing presence ttl: %w", err)
	}
	if _, err := t.syncCount(ctx, roomID); err != nil {
		return err
	}
	if wasPresent {
		return nil
	}
	t.publish(ctx, Event{Type: EventJoin, RoomID: roomID, Username: username, At: now})
	return nil
}

// MarkAbsent removes username from roomID immediately. A leave event is
// published only when an entry was actually removed.
func (t *Tracker) MarkAbsent(ctx context.Context, roomID, username string) error {
	removed, err := t.kv.ZRem(ctx, store.PresenceKey(roomID), username)
	if err != nil {
		return fmt.Errorf("removing presence: %w", err)
	}
	if _, err := t.kv.Del(ctx, store.PresenceTTLKey(roomID, username)); err != nil {
		return fmt.Errorf("removing presence ttl: %w", err)
	}
	if _, err := t.syncCount(ctx, roomID); err != nil {
		return err
	}
	if removed == 0 {
		return nil
	}
	t.publish(ctx, Event{Type: EventLeave, RoomID: roomID, Username: username, At: t.clock.Now()})
	return nil
}

// ActiveUsers returns usernames seen in roomID within the TTL window, sorted.
// Entries not yet purged from the live set are still excluded once stale or
// once their TTL key has lapsed.
func (t *Tracker) ActiveUsers(ctx context.Context, roomID string) ([]string, error) {
	members, err := t.kv.ZRangeByScore(ctx, store.PresenceKey(roomID), "("+t.cutoff(), "+inf")
	if err != nil {
		return nil, fmt.Errorf("reading live set: %w", err)
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	ttlKeys := make([]string, len(members))
	for i, m := range members {
		ttlKeys[i] = store.PresenceTTLKey(roomID, m)
	}
	alive, err := t.kv.ExistsEach(ctx, ttlKeys)
	if err != nil {
		return nil, fmt.Errorf("checking presence ttl: %w", err)
	}

	users := make([]string, 0, len(members))
	for i, m := range members {
		if alive[i] {
			users = append(users, m)
		}
	}
	slices.Sort(users)
	return users, nil
}

// Count returns the cached user-count for roomID, computing it on a miss.
func (t *Tracker) Count(ctx context.Context, roomID string) (int, error) {
	raw, err := t.kv.Get(ctx, store.PresenceCountKey(roomID))
	switch {
	case err == nil:
		if n, perr := strconv.Atoi(string(raw)); perr == nil && n >= 0 {
			return n, nil
		}
	case !errors.Is(err, store.ErrNotFound):
		return 0, fmt.Errorf("reading room count: %w", err)
	}
	return t.syncCount(ctx, roomID)
}

// Reconcile walks every room live set with a cursor scan, purges entries past
// the TTL, and resyncs each room's cached count. Staleness is decided by the
// store against each entry's score at removal time, so a member that
// heartbeats mid-pass is kept. Safe to run alongside traffic and other passes.
func (t *Tracker) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	seen := make(map[string]struct{})

	err := store.EachKey(ctx, t.kv, store.PresencePattern, scanBatch, func(keys []string) error {
		for _, key := range keys {
			room, ok := store.RoomFromPresenceKey(key)
			if !ok {
				continue
			}
			if _, dup := seen[room]; dup {
				continue
			}
			seen[room] = struct{}{}

			scanned, removed, err := t.reconcileRoom(ctx, room)
			if err != nil {
				return fmt.Errorf("reconciling room %s: %w", room, err)
			}
			res.Rooms++
			res.Scanned += scanned
			res.Removed += removed
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

// reconcileRoom purges roomID's stale entries and publishes a leave for each
// member the purge actually removed.
func (t *Tracker) reconcileRoom(ctx context.Context, roomID string) (scanned, removed int, err error) {
	key := store.PresenceKey(roomID)
	n, err := t.kv.ZCard(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	cutoff := t.cutoff()
	stale, err := t.kv.PresenceRange(ctx, roomID, "-inf", cutoff)
	if err != nil {
		return 0, 0, err
	}
	var gone int64
	if len(stale) > 0 {
		if gone, err = t.kv.ZRemRangeByScore(ctx, key, "-inf", cutoff); err != nil {
			return 0, 0, err
		}
	}
	if _, err := t.syncCount(ctx, roomID); err != nil {
		return 0, 0, err
	}
	if gone > 0 {
		t.publishLeaves(ctx, stale)
	}
	return int(n), int(gone), nil
}

// publishLeaves announces candidates that are no longer in the live set.
// A candidate that heartbeated between the range read and the purge kept its entry.
func (t *Tracker) publishLeaves(ctx context.Context, candidates []store.PresenceEntry) {
	now := t.clock.Now()
	for _, e := range candidates {
		_, err := t.kv.ZScore(ctx, store.PresenceKey(e.RoomID), e.Username)
		switch {
		case errors.Is(err, store.ErrNotFound):
			t.publish(ctx, Event{Type: EventLeave, RoomID: e.RoomID, Username: e.Username, At: now})
		case err != nil:
			slog.Warn("presence leave not published", "room", e.RoomID, "username", e.Username, "error", err)
		}
	}
}

// syncCount writes len(ActiveUsers) to the cached count key.
func (t *Tracker) syncCount(ctx context.Context, roomID string) (int, error) {
	users, err := t.ActiveUsers(ctx, roomID)
	if err != nil {
		return 0, err
	}
	n := len(users)
	if err := t.kv.SetPersistent(ctx, store.PresenceCountKey(roomID), []byte(strconv.Itoa(n))); err != nil {
		return 0, fmt.Errorf("writing room count: %w", err)
	}
	return n, nil
}

// cutoff is the newest score that counts as stale, in Redis score syntax.
func (t *Tracker) cutoff() string {
	return strconv.FormatInt(t.clock.Now().Add(-t.ttl).UnixMilli(), 10)
}

func (t *Tracker) publish(ctx context.Context, ev Event) {
	if t.pub == nil {
		return
	}
	// Presence state is already committed; a lost event only delays subscribers.
	if err := t.pub.PublishPresence(ctx, ev); err != nil {
		slog.Warn("presence event not published", "room", ev.RoomID, "type", ev.Type, "error", err)
	}
}
