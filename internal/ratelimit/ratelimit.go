// ratelimit.go -- Fixed-window counters and block escalation over the shared store.
//
// The counter is incremented first and the post-increment value is compared to
// the limit. Two concurrent requests can never both observe "under the limit"
// because each sees its own INCR result.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MGallo-Code/roomgate/internal/clock"
	"github.com/MGallo-Code/roomgate/internal/store"
)

// ErrInvalidWindow is returned for a non-positive window or limit.
var ErrInvalidWindow = errors.New("window and limit must be positive")

// Counter is the slice of the shared store the limiter needs.
// Satisfied by *store.RedisStore.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Result is the outcome of one CheckAndIncrement.
type Result struct {
	Allowed      bool
	Count        int64
	Limit        int
	Remaining    int
	ResetSeconds int
}

// Limiter implements fixed-window rate limiting and coarse blocks.
type Limiter struct {
	c     Counter
	clock clock.Clock
}

// New returns a Limiter. A nil clk uses clock.Real().
func New(c Counter, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{c: c, clock: clk}
}

// CheckAndIncrement counts one hit against key and reports whether it is within limit.
// The denying increment is kept: it is the (limit+1)th hit, not discarded.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key string, windowSeconds, limit int) (Result, error) {
	if windowSeconds <= 0 || limit <= 0 {
		return Result{}, ErrInvalidWindow
	}
	window := time.Duration(windowSeconds) * time.Second

	count, err := l.c.Incr(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("incrementing %s: %w", key, err)
	}
	// First hit of a fresh window starts the window.
	if count == 1 {
		if _, err := l.c.Expire(ctx, key, window); err != nil {
			return Result{}, fmt.Errorf("starting window for %s: %w", key, err)
		}
	}

	counter := l.readWindow(ctx, key, count, window)

	res := Result{
		Count:        counter.Count,
		Limit:        limit,
		ResetSeconds: int(math.Ceil(counter.WindowExpiresAt.Sub(l.clock.Now()).Seconds())),
	}
	if res.ResetSeconds <= 0 {
		res.ResetSeconds = windowSeconds
	}
	if counter.Count > int64(limit) {
		res.Allowed = false
		res.Remaining = 0
	} else {
		res.Allowed = true
		res.Remaining = limit - int(counter.Count)
	}
	return res, nil
}

// readWindow reads back the counter's remaining TTL.
// Any read failure or non-positive TTL falls back to the configured window, never
// to "unlimited". A counter found with no expiry at all gets one re-applied so it
// cannot lock an identifier out forever.
func (l *Limiter) readWindow(ctx context.Context, key string, count int64, window time.Duration) store.RateCounter {
	reset := window
	ttl, err := l.c.TTL(ctx, key)
	switch {
	case err != nil:
		// keep the configured window
	case ttl == -1:
		if _, err := l.c.Expire(ctx, key, window); err != nil {
			slog.Warn("rate counter ttl not restored", "key", key, "error", err)
		}
	case ttl > 0:
		reset = ttl
	}
	return store.RateCounter{
		Key:             key,
		Count:           count,
		WindowExpiresAt: l.clock.Now().Add(reset),
	}
}

// IsBlocked reports whether a block flag is set for (action, identifier).
func (l *Limiter) IsBlocked(ctx context.Context, action, identifier string) (bool, error) {
	ok, err := l.c.Exists(ctx, store.BlockKey(action, identifier))
	if err != nil {
		return false, fmt.Errorf("checking block: %w", err)
	}
	return ok, nil
}

// SetBlock denies (action, identifier) outright for ttl, regardless of counters.
func (l *Limiter) SetBlock(ctx context.Context, action, identifier string, ttl time.Duration) error {
	if err := l.c.Set(ctx, store.BlockKey(action, identifier), []byte("1"), ttl); err != nil {
		return fmt.Errorf("setting block: %w", err)
	}
	return nil
}

// BlockRemaining returns how long an existing block has left, or 0 if unknown.
func (l *Limiter) BlockRemaining(ctx context.Context, action, identifier string) time.Duration {
	ttl, err := l.c.TTL(ctx, store.BlockKey(action, identifier))
	if err != nil || ttl <= 0 {
		return 0
	}
	return ttl
}
