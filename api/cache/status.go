package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"formy/api/database"
	"formy/api/models"
)

const (
	statusKeyPrefix = "formy:task:status:"
	statusTTL       = 10 * time.Minute
)

// StatusSnapshot is the lightweight view served to polling clients
// without touching the task store.
type StatusSnapshot struct {
	Status   models.TaskStatus `json:"status"`
	Progress int               `json:"progress"`
	Step     string            `json:"step,omitempty"`
}

type StatusCache struct {
	cache *database.Redis
}

func NewStatusCache(cache *database.Redis) *StatusCache {
	return &StatusCache{cache: cache}
}

func (sc *StatusCache) Get(ctx context.Context, taskID string) (*StatusSnapshot, error) {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, taskID)

	data, err := sc.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var snap StatusSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (sc *StatusCache) Set(ctx context.Context, taskID string, snap StatusSnapshot) error {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, taskID)

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return sc.cache.Set(ctx, key, data, statusTTL)
}

func (sc *StatusCache) Delete(ctx context.Context, taskID string) error {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, taskID)
	return sc.cache.Del(ctx, key)
}
