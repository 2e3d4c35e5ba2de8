// queue.go
//
// Capped Redis list handing admitted AI reply requests to the external AI
// worker. This service only produces; the worker pops from the head.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MGallo-Code/roomgate/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

// ReplyQueueKey is the Redis list consumed by the AI worker.
const ReplyQueueKey = "roomgate:reply:queue"

// DefaultMaxQueueSize caps the queue when none is configured.
// Prevents unbounded growth while the AI worker is down. 0 = unlimited.
const DefaultMaxQueueSize int64 = 1000

// ErrQueueFull is returned by Enqueue when the queue has reached its cap.
var ErrQueueFull = errors.New("reply queue full")

// ReplyJob is the serialized payload pushed onto the queue.
type ReplyJob struct {
	ID          uuid.UUID `json:"id"`
	RoomID      string    `json:"room_id"`
	Username    string    `json:"username"`
	Prompt      string    `json:"prompt"`
	RequestedAt time.Time `json:"requested_at"`
}

// ReplyQueue enqueues reply jobs for the AI worker.
type ReplyQueue struct {
	rdb     *redis.Client
	maxSize int64
	timeout time.Duration
}

// NewReplyQueue returns a ReplyQueue capped at maxSize (0 = unlimited). Each
// enqueue is bounded by timeout; timeout <= 0 uses store.DefaultOpTimeout.
func NewReplyQueue(rdb *redis.Client, maxSize int64, timeout time.Duration) *ReplyQueue {
	if timeout <= 0 {
		timeout = store.DefaultOpTimeout
	}
	return &ReplyQueue{rdb: rdb, maxSize: maxSize, timeout: timeout}
}

// enqueueScript atomically checks the queue length and pushes the job only if
// under the cap. Returns 1 if enqueued, 0 if rejected.
// KEYS[1] = queue key, ARGV[1] = max size (0 = skip check), ARGV[2] = payload.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// Enqueue assigns job an id and appends it. Returns the id, or ErrQueueFull.
func (q *ReplyQueue) Enqueue(ctx context.Context, job ReplyJob) (uuid.UUID, error) {
	if job.ID.IsNil() {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.Nil, fmt.Errorf("generating job id: %w", err)
		}
		job.ID = id
	}
	data, err := json.Marshal(job)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling reply job: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	ok, err := enqueueScript.Run(ctx, q.rdb, []string{ReplyQueueKey}, q.maxSize, data).Int64()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: enqueue: %w", store.ErrUnavailable, err)
	}
	if ok == 0 {
		return uuid.Nil, ErrQueueFull
	}
	return job.ID, nil
}
