// cursor.go -- Restartable cursor over the store keyspace.
//
// Wraps SCAN so callers never materialize the whole keyspace: each Next call
// is one round-trip returning one batch. Batches may repeat keys (a SCAN
// guarantee, not a bug); callers dedupe where it matters.
package store

import "context"

// Scanner is one step of cursor iteration. A returned cursor of 0 means done.
type Scanner interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) (keys []string, next uint64, err error)
}

// KeyCursor walks keys matching a pattern one batch at a time.
type KeyCursor struct {
	s      Scanner
	match  string
	count  int64
	cursor uint64
	done   bool
}

// NewKeyCursor starts a cursor at the beginning of the keyspace.
// count is a batch-size hint passed to SCAN.
func NewKeyCursor(s Scanner, match string, count int64) *KeyCursor {
	return &KeyCursor{s: s, match: match, count: count}
}

// Next returns the next batch. more is false once iteration has completed;
// the final batch may be non-empty.
func (c *KeyCursor) Next(ctx context.Context) (batch []string, more bool, err error) {
	if c.done {
		return nil, false, nil
	}
	keys, next, err := c.s.Scan(ctx, c.cursor, c.match, c.count)
	if err != nil {
		return nil, false, err
	}
	c.cursor = next
	if next == 0 {
		c.done = true
	}
	return keys, !c.done, nil
}

// Cursor returns the position to resume from after a failure.
func (c *KeyCursor) Cursor() uint64 { return c.cursor }

// EachKey feeds every batch to fn until the cursor completes or fn errors.
func EachKey(ctx context.Context, s Scanner, match string, count int64, fn func(keys []string) error) error {
	c := NewKeyCursor(s, match, count)
	for {
		batch, more, err := c.Next(ctx)
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			if err := fn(batch); err != nil {
				return err
			}
		}
		if !more {
			return nil
		}
	}
}
