// redis.go
//
// In-process Redis for component and handler tests.
package testutil

import (
	"testing"
	"time"

	"github.com/MGallo-Code/roomgate/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewRedis starts a miniredis server for the test and returns a store over it.
// Use the returned server to FastForward TTLs or Close it to simulate an outage.
func NewRedis(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return store.NewRedisStore(rdb, time.Second), mr
}
