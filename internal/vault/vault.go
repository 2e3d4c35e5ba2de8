// vault.go -- PasswordVault: one Argon2id hash per username in the shared store.
//
// Absence of a record means "no password set", never an error. Verification
// fails closed: missing or malformed records verify as false.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/MGallo-Code/roomgate/internal/store"
)

const (
	// MinLength is counted in runes (user-perceived characters).
	MinLength = 8
	// MaxBytes caps input to Argon2id; long inputs are a cheap DoS otherwise.
	MaxBytes = 128
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrPasswordInvalid  = errors.New("password contains invalid characters")
)

// KV is the slice of the shared store the vault needs.
// Satisfied by *store.RedisStore.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetPersistent(ctx context.Context, key string, value []byte) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Vault hashes, stores, and verifies user passwords.
type Vault struct {
	kv     KV
	params Params

	dummyOnce sync.Once
	dummy     string
}

// New returns a Vault writing hashes with params.
func New(kv KV, params Params) *Vault {
	return &Vault{kv: kv, params: params}
}

// ValidatePassword checks length bounds and rejects control characters.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxBytes {
		return ErrPasswordTooLong
	}
	for _, r := range password {
		if unicode.IsControl(r) {
			return ErrPasswordInvalid
		}
	}
	return nil
}

// SetPassword validates plaintext, hashes it with a fresh salt, and overwrites
// any existing record for username.
func (v *Vault) SetPassword(ctx context.Context, username, plaintext string) error {
	if err := ValidatePassword(plaintext); err != nil {
		return err
	}
	hash, err := HashPassword(plaintext, v.params)
	if err != nil {
		return err
	}
	if err := v.kv.SetPersistent(ctx, store.PasswordKey(username), []byte(hash)); err != nil {
		return fmt.Errorf("storing password hash: %w", err)
	}
	return nil
}

// VerifyPassword reports whether plaintext matches the stored hash.
// No record and unparseable records both return false with a nil error; only
// store failures return an error. A dummy hash runs on the no-record path so
// both paths cost the same.
func (v *Vault) VerifyPassword(ctx context.Context, username, plaintext string) (bool, error) {
	raw, err := v.kv.Get(ctx, store.PasswordKey(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			CheckPassword(plaintext, v.dummyHash())
			return false, nil
		}
		return false, fmt.Errorf("fetching password hash: %w", err)
	}
	ok, err := CheckPassword(plaintext, string(raw))
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// HasPassword reports whether username has a password set. Never exposes the hash.
func (v *Vault) HasPassword(ctx context.Context, username string) (bool, error) {
	ok, err := v.kv.Exists(ctx, store.PasswordKey(username))
	if err != nil {
		return false, fmt.Errorf("checking password: %w", err)
	}
	return ok, nil
}

func (v *Vault) dummyHash() string {
	v.dummyOnce.Do(func() {
		h, err := HashPassword("timing-equalizer", v.params)
		if err == nil {
			v.dummy = h
		}
	})
	return v.dummy
}
