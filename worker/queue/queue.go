package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueKey = "formy:task:queue"

// TaskQueue is the consumer end of the pending-task FIFO. Pop is the
// worker's sole suspension point for new work.
type TaskQueue struct {
	client *redis.Client
}

func New(client *redis.Client) *TaskQueue {
	return &TaskQueue{client: client}
}

// Pop blocks up to timeout; an empty id with a nil error means nothing
// was queued before the timeout.
func (q *TaskQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, timeout, queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	if len(res) != 2 {
		return "", nil
	}
	return res[1], nil
}

// Push requeues a task id, used when recovering stuck tasks.
func (q *TaskQueue) Push(ctx context.Context, taskID string) error {
	return q.client.LPush(ctx, queueKey, taskID).Err()
}

func (q *TaskQueue) HealthCheck(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return q.client.Ping(pingCtx).Err() == nil
}
