package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list holding pending task ids, oldest at the
// tail so BRPOP preserves submission order.
const QueueKey = "formy:task:queue"

// TaskQueue is a strict global FIFO of task ids. It is deliberately
// separate from the task records so reads and cancels never disturb
// queue ordering. Duplicate pushes are tolerated; consumers must check
// task state before executing.
type TaskQueue struct {
	client *redis.Client
	key    string
}

func New(client *redis.Client) *TaskQueue {
	return &TaskQueue{client: client, key: QueueKey}
}

func (q *TaskQueue) Push(ctx context.Context, taskID string) error {
	return q.client.LPush(ctx, q.key, taskID).Err()
}

// Pop blocks up to timeout for the next task id. An empty string with a
// nil error means the timeout expired with nothing queued.
func (q *TaskQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
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

func (q *TaskQueue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// HealthCheck probes connectivity; it reports rather than fails.
func (q *TaskQueue) HealthCheck(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return q.client.Ping(pingCtx).Err() == nil
}
