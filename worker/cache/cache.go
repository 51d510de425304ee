package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusKeyPrefix = "formy:task:status:"
	statusTTL       = 10 * time.Minute
)

type statusSnapshot struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Step     string `json:"step,omitempty"`
}

// StatusCache keeps the polling fast path current while a task runs.
type StatusCache struct {
	client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

func (c *StatusCache) Set(ctx context.Context, taskID, status string, progress int, step string) error {
	data, err := json.Marshal(statusSnapshot{Status: status, Progress: progress, Step: step})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statusKeyPrefix+taskID, data, statusTTL).Err()
}
