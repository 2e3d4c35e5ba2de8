package vault

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/roomgate/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testParams keeps hashing cheap; production cost is irrelevant to correctness.
var testParams = Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

func newTestVault(t *testing.T) (*Vault, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(store.NewRedisStore(rdb, time.Second), testParams), mr
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse", testParams)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := CheckPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword("wrong horse", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	other, _ := HashPassword("correct horse", testParams)
	assert.NotEqual(t, hash, other, "salts must differ")

	for _, bad := range []string{"", "plain", "$bcrypt$x$y$z$w", "$argon2id$v=1$m=1,t=1,p=1$AA$AA", "$argon2id$v=19$m=1,t=1,p=1$!!$AA"} {
		_, err := CheckPassword("x", bad)
		assert.ErrorIs(t, err, errMalformedHash, bad)
	}
}

func TestValidatePassword(t *testing.T) {
	assert.ErrorIs(t, ValidatePassword("short"), ErrPasswordTooShort)
	assert.ErrorIs(t, ValidatePassword(strings.Repeat("a", MaxBytes+1)), ErrPasswordTooLong)
	assert.ErrorIs(t, ValidatePassword("pass\x00word"), ErrPasswordInvalid)
	assert.NoError(t, ValidatePassword("longenough"))
	// Eight runes, more than eight bytes.
	assert.NoError(t, ValidatePassword("ééééééé1"))
}

func TestVault(t *testing.T) {
	ctx := context.Background()

	t.Run("set then verify", func(t *testing.T) {
		v, mr := newTestVault(t)
		require.NoError(t, v.SetPassword(ctx, "alice", "hunter2hunter2"))

		ok, err := v.VerifyPassword(ctx, "alice", "hunter2hunter2")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = v.VerifyPassword(ctx, "alice", "nope-nope")
		require.NoError(t, err)
		assert.False(t, ok)

		stored, _ := mr.Get(store.PasswordKey("alice"))
		assert.NotContains(t, stored, "hunter2")
		assert.Zero(t, mr.TTL(store.PasswordKey("alice")), "password record must not expire")
	})

	t.Run("overwrite replaces old password", func(t *testing.T) {
		v, _ := newTestVault(t)
		require.NoError(t, v.SetPassword(ctx, "alice", "first-password"))
		require.NoError(t, v.SetPassword(ctx, "alice", "second-password"))

		ok, _ := v.VerifyPassword(ctx, "alice", "first-password")
		assert.False(t, ok)
		ok, _ = v.VerifyPassword(ctx, "alice", "second-password")
		assert.True(t, ok)
	})

	t.Run("too short is rejected before any write", func(t *testing.T) {
		v, mr := newTestVault(t)
		assert.ErrorIs(t, v.SetPassword(ctx, "alice", "short"), ErrPasswordTooShort)
		assert.False(t, mr.Exists(store.PasswordKey("alice")))
	})

	t.Run("missing record fails closed", func(t *testing.T) {
		v, _ := newTestVault(t)
		ok, err := v.VerifyPassword(ctx, "ghost", "whatever-pass")
		require.NoError(t, err)
		assert.False(t, ok)

		has, err := v.HasPassword(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("malformed record fails closed", func(t *testing.T) {
		v, mr := newTestVault(t)
		mr.Set(store.PasswordKey("alice"), "garbage")
		ok, err := v.VerifyPassword(ctx, "alice", "whatever-pass")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("has password after set", func(t *testing.T) {
		v, _ := newTestVault(t)
		require.NoError(t, v.SetPassword(ctx, "alice", "hunter2hunter2"))
		has, err := v.HasPassword(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("store failure surfaces", func(t *testing.T) {
		v, mr := newTestVault(t)
		mr.Close()
		_, err := v.VerifyPassword(ctx, "alice", "whatever-pass")
		assert.ErrorIs(t, err, store.ErrUnavailable)
	})
}
