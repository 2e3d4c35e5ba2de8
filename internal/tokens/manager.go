// manager.go -- TokenLifecycleManager.
//
// A (username, token) pair is Active while token:active:{username}:{hash} exists,
// in Grace while it is the user's single retained token:last:{username} record
// and the grace deadline has not passed, and Invalid otherwise.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MGallo-Code/roomgate/internal/clock"
	"github.com/MGallo-Code/roomgate/internal/identity"
	"github.com/MGallo-Code/roomgate/internal/store"
	"github.com/gofrs/uuid/v5"
)

// ErrInvalidToken is returned by Refresh when the presented token is neither Active nor in Grace.
var ErrInvalidToken = errors.New("invalid token")

// errTokenCollision means SETNX found an existing key for a freshly generated token.
var errTokenCollision = errors.New("token collision")

// scanBatch is the SCAN COUNT hint used for per-user token enumeration.
const scanBatch = 100

// KV is the slice of the shared store the manager needs.
// Satisfied by *store.RedisStore.
type KV interface {
	store.Scanner
	Get(ctx context.Context, key string) ([]byte, error)
	GetDel(ctx context.Context, key string) ([]byte, error)
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Config holds token lifetimes.
type Config struct {
	// TTL is the sliding lifetime of an Active token.
	TTL time.Duration
	// Grace is how long a retired token keeps validating with Expired set.
	Grace time.Duration
}

// Issued is a freshly minted token. Token is the only place the raw value exists.
type Issued struct {
	Token     string
	ID        uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Validation is the outcome of Validate.
type Validation struct {
	Valid   bool
	Expired bool
	// Set only when Expired.
	ExpiredAt  time.Time
	GraceUntil time.Time
}

// Session describes one Active token without revealing it.
type Session struct {
	ID          uuid.UUID
	MaskedToken string
	IssuedAt    time.Time
	IsCurrent   bool
}

// Manager issues, validates, rotates, lists, and revokes session tokens.
type Manager struct {
	kv     KV
	cfg    Config
	clock  clock.Clock
	filter identity.ContentFilter
}

// New returns a Manager. A nil clk uses clock.Real(); a nil filter allows all usernames.
func New(kv KV, cfg Config, clk clock.Clock, filter identity.ContentFilter) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if filter == nil {
		filter = identity.AllowAll{}
	}
	return &Manager{kv: kv, cfg: cfg, clock: clk, filter: filter}
}

// Issue mints a new Active token for username. Existing tokens are untouched,
// so each device holds its own.
func (m *Manager) Issue(ctx context.Context, username string) (Issued, error) {
	token, err := generateToken()
	if err != nil {
		return Issued{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Issued{}, fmt.Errorf("generating token id: %w", err)
	}
	now := m.clock.Now()

	rec, err := json.Marshal(store.ActiveToken{
		ID:       id,
		Username: username,
		Hint:     hint(token),
		IssuedAt: now,
	})
	if err != nil {
		return Issued{}, fmt.Errorf("marshaling token record: %w", err)
	}

	ok, err := m.kv.SetNX(ctx, store.ActiveTokenKey(username, hashToken(token)), rec, m.cfg.TTL)
	if err != nil {
		return Issued{}, fmt.Errorf("storing token: %w", err)
	}
	if !ok {
		return Issued{}, errTokenCollision
	}

	return Issued{Token: token, ID: id, IssuedAt: now, ExpiresAt: now.Add(m.cfg.TTL)}, nil
}

// Validate checks token for username. An Active match slides its TTL forward.
// With allowExpired, a token retained in the grace slot also validates, with
// Expired set. Errors are store failures only; an unknown token is Valid=false.
func (m *Manager) Validate(ctx context.Context, username, token string, allowExpired bool) (Validation, error) {
	if token == "" || username == "" {
		return Validation{}, nil
	}
	tokenHash := hashToken(token)
	key := store.ActiveTokenKey(username, tokenHash)

	raw, err := m.kv.Get(ctx, key)
	switch {
	case err == nil:
		if rec, ok := store.DecodeActiveToken(raw); ok && rec.Username == username {
			if _, err := m.kv.Expire(ctx, key, m.cfg.TTL); err != nil {
				return Validation{}, fmt.Errorf("sliding token expiry: %w", err)
			}
			return Validation{Valid: true}, nil
		}
		// Malformed record: treated as absent.
	case !errors.Is(err, store.ErrNotFound):
		return Validation{}, fmt.Errorf("fetching token: %w", err)
	}

	if !allowExpired {
		return Validation{}, nil
	}
	return m.validateGrace(ctx, username, tokenHash)
}

// validateGrace checks the user's retained last-valid token.
func (m *Manager) validateGrace(ctx context.Context, username, tokenHash string) (Validation, error) {
	raw, err := m.kv.Get(ctx, store.LastTokenKey(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Validation{}, nil
		}
		return Validation{}, fmt.Errorf("fetching grace token: %w", err)
	}
	rec, ok := store.DecodeGraceToken(raw)
	if !ok || rec.Username != username || !hashesEqual(rec.TokenHash, tokenHash) {
		return Validation{}, nil
	}
	if !m.clock.Now().Before(rec.GraceUntil) {
		return Validation{}, nil
	}
	// The record may predate a username becoming unacceptable.
	if identity.Check(rec.Username, m.filter) != "" {
		return Validation{}, nil
	}
	return Validation{
		Valid:      true,
		Expired:    true,
		ExpiredAt:  rec.ExpiredAt,
		GraceUntil: rec.GraceUntil,
	}, nil
}

// Refresh exchanges oldToken (Active or Grace) for a new Active token.
// An Active oldToken moves into the grace slot with its window starting now.
// A Grace oldToken is exchanged at most once: the grace record is consumed,
// so rotating through it never extends grace or mints a second token.
func (m *Manager) Refresh(ctx context.Context, username, oldToken string) (Issued, error) {
	v, err := m.Validate(ctx, username, oldToken, true)
	if err != nil {
		return Issued{}, err
	}
	if !v.Valid {
		return Issued{}, ErrInvalidToken
	}
	if v.Expired {
		return m.redeemGrace(ctx, username, oldToken)
	}
	return m.rotate(ctx, username, oldToken)
}

// redeemGrace atomically takes the grace record and issues a replacement for
// the token it holds. Concurrent redemptions race on GETDEL; only one wins.
func (m *Manager) redeemGrace(ctx context.Context, username, oldToken string) (Issued, error) {
	key := store.LastTokenKey(username)
	raw, err := m.kv.GetDel(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Issued{}, ErrInvalidToken
		}
		return Issued{}, fmt.Errorf("taking grace token: %w", err)
	}
	rec, ok := store.DecodeGraceToken(raw)
	if !ok || rec.Username != username {
		return Issued{}, ErrInvalidToken
	}
	now := m.clock.Now()
	if !now.Before(rec.GraceUntil) || identity.Check(rec.Username, m.filter) != "" {
		return Issued{}, ErrInvalidToken
	}
	if !hashesEqual(rec.TokenHash, hashToken(oldToken)) {
		// A rotation replaced the record after Validate; it belongs to another token.
		m.restoreGrace(ctx, key, raw, rec.GraceUntil.Sub(now))
		return Issued{}, ErrInvalidToken
	}

	issued, err := m.Issue(ctx, username)
	if err != nil {
		m.restoreGrace(ctx, key, raw, rec.GraceUntil.Sub(now))
		return Issued{}, err
	}
	return issued, nil
}

// restoreGrace puts back a grace record taken by redeemGrace. SETNX keeps a
// record written by a newer rotation in the meantime.
func (m *Manager) restoreGrace(ctx context.Context, key string, raw []byte, remaining time.Duration) {
	if remaining <= 0 {
		return
	}
	if _, err := m.kv.SetNX(ctx, key, raw, remaining); err != nil {
		slog.Warn("grace record not restored", "key", key, "error", err)
	}
}

// Reauthenticate issues a new token for a caller who proved identity some other
// way (password). oldToken is optional; if it is currently Active it is retired
// through the grace slot exactly like Refresh.
func (m *Manager) Reauthenticate(ctx context.Context, username, oldToken string) (Issued, error) {
	if oldToken != "" {
		v, err := m.Validate(ctx, username, oldToken, false)
		if err != nil {
			return Issued{}, err
		}
		if v.Valid {
			return m.rotate(ctx, username, oldToken)
		}
	}
	return m.Issue(ctx, username)
}

// rotate retires an Active oldToken and issues its replacement. Order matters:
// grace record, then new Active record, then delete the old Active record. A
// failure at any step leaves oldToken honorable, Active or through grace.
func (m *Manager) rotate(ctx context.Context, username, oldToken string) (Issued, error) {
	oldHash := hashToken(oldToken)

	if m.cfg.Grace > 0 {
		now := m.clock.Now()
		rec, err := json.Marshal(store.GraceToken{
			Username:   username,
			TokenHash:  oldHash,
			ExpiredAt:  now,
			GraceUntil: now.Add(m.cfg.Grace),
		})
		if err != nil {
			return Issued{}, fmt.Errorf("marshaling grace record: %w", err)
		}
		if err := m.kv.Set(ctx, store.LastTokenKey(username), rec, m.cfg.Grace); err != nil {
			return Issued{}, fmt.Errorf("storing grace record: %w", err)
		}
	}

	issued, err := m.Issue(ctx, username)
	if err != nil {
		return Issued{}, err
	}

	if _, err := m.kv.Del(ctx, store.ActiveTokenKey(username, oldHash)); err != nil {
		return Issued{}, fmt.Errorf("deleting rotated token: %w", err)
	}
	return issued, nil
}

// Revoke deletes one Active token. Returns whether it existed.
func (m *Manager) Revoke(ctx context.Context, username, token string) (bool, error) {
	n, err := m.kv.Del(ctx, store.ActiveTokenKey(username, hashToken(token)))
	if err != nil {
		return false, fmt.Errorf("revoking token: %w", err)
	}
	return n == 1, nil
}

// RevokeAll deletes every Active token for username in one batch and returns
// how many were removed. The grace slot is left alone: a just-rotated token may
// still be honored briefly after logout-all.
func (m *Manager) RevokeAll(ctx context.Context, username string) (int, error) {
	keys, err := m.activeKeys(ctx, username)
	if err != nil {
		return 0, err
	}
	n, err := m.kv.Del(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("revoking tokens: %w", err)
	}
	return int(n), nil
}

// ListActive describes username's Active tokens, oldest first. currentToken,
// if it is one of them, is flagged IsCurrent. Raw tokens are never returned.
func (m *Manager) ListActive(ctx context.Context, username, currentToken string) ([]Session, error) {
	keys, err := m.activeKeys(ctx, username)
	if err != nil {
		return nil, err
	}
	vals, err := m.kv.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("fetching tokens: %w", err)
	}

	currentHash := ""
	if currentToken != "" {
		currentHash = hashToken(currentToken)
	}

	sessions := make([]Session, 0, len(keys))
	for i, raw := range vals {
		if raw == nil {
			// Expired between SCAN and MGET.
			continue
		}
		rec, ok := store.DecodeActiveToken(raw)
		if !ok || rec.Username != username {
			continue
		}
		sessions = append(sessions, Session{
			ID:          rec.ID,
			MaskedToken: Mask(rec.Hint),
			IssuedAt:    rec.IssuedAt,
			IsCurrent:   currentHash != "" && hashesEqual(store.TokenHashFromKey(keys[i]), currentHash),
		})
	}
	slices.SortFunc(sessions, func(a, b Session) int { return a.IssuedAt.Compare(b.IssuedAt) })
	return sessions, nil
}

// activeKeys enumerates username's Active token keys with a cursor scan, deduplicated.
func (m *Manager) activeKeys(ctx context.Context, username string) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	err := store.EachKey(ctx, m.kv, store.ActiveTokenPattern(username), scanBatch, func(batch []string) error {
		for _, k := range batch {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning tokens: %w", err)
	}
	return keys, nil
}
