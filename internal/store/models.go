// models.go -- Record types for each shared-store key namespace.
//
// Records read back from the store pass through a Decode* function that fails
// closed: a malformed or partial record is reported as absent, never as a crash
// and never as a half-filled struct.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrNotFound is returned when a key does not exist.
// Callers use errors.Is to distinguish a true miss from a store failure.
var ErrNotFound = errors.New("not found")

// ErrUnavailable wraps every failure talking to the shared store or database.
// Auth-sensitive callers must not retry on it; they surface it as 503.
var ErrUnavailable = errors.New("store unavailable")

// ErrUserExists is returned by CreateUser on a duplicate username.
var ErrUserExists = errors.New("user already exists")

// ActiveToken is the JSON shape stored at token:active:{username}:{tokenHash}.
// Expiry is carried by the key TTL, which slides on every successful validation.
type ActiveToken struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Hint     string    `json:"hint"` // last chars of the raw token, for masked listing
	IssuedAt time.Time `json:"issued_at"`
}

// GraceToken is the JSON shape stored at token:last:{username}.
// One per user; overwritten on every rotation.
type GraceToken struct {
	Username   string    `json:"username"`
	TokenHash  string    `json:"token_hash"`
	ExpiredAt  time.Time `json:"expired_at"`
	GraceUntil time.Time `json:"grace_until"`
}

// RateCounter is the state of one fixed-window counter after an increment.
type RateCounter struct {
	Key             string
	Count           int64
	WindowExpiresAt time.Time
}

// PresenceEntry is one member of a room's live set.
// Stored as a sorted-set member scored by LastSeenAt in unix milliseconds.
type PresenceEntry struct {
	RoomID     string
	Username   string
	LastSeenAt time.Time
}

// DecodeActiveToken parses an ActiveToken record. ok is false for any malformed record.
func DecodeActiveToken(raw []byte) (rec ActiveToken, ok bool) {
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ActiveToken{}, false
	}
	if rec.Username == "" || rec.IssuedAt.IsZero() {
		return ActiveToken{}, false
	}
	return rec, true
}

// DecodeGraceToken parses a GraceToken record. ok is false for any malformed record.
func DecodeGraceToken(raw []byte) (rec GraceToken, ok bool) {
	if err := json.Unmarshal(raw, &rec); err != nil {
		return GraceToken{}, false
	}
	if rec.Username == "" || rec.TokenHash == "" || rec.GraceUntil.IsZero() {
		return GraceToken{}, false
	}
	return rec, true
}
