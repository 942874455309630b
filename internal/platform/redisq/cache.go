package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pagelift/pagelift-api/internal/domain"
)

const (
	taskCachePrefix   = "task_cache:"
	ownerCachePrefix  = "user_tasks:"
	taskStatusPrefix  = "task_status:"
	defaultTaskTTL    = 5 * time.Minute
	defaultListTTL    = time.Minute
	taskStatusKeyTTL  = time.Hour
	cacheMissSentinel = redis.Nil
)

// Cache is the short-TTL read cache over task details and per-owner task
// listings, plus TTL'd task status keys. Every entry is a disposable
// projection of the task row; mutations invalidate explicitly and a failed
// cache operation is never allowed to fail the surrounding mutation.
type Cache struct {
	client  *redis.Client
	taskTTL time.Duration
	listTTL time.Duration
}

// NewCache creates a Cache with the given TTLs; zero durations fall back to
// the defaults.
func NewCache(client *redis.Client, taskTTL, listTTL time.Duration) *Cache {
	if taskTTL <= 0 {
		taskTTL = defaultTaskTTL
	}
	if listTTL <= 0 {
		listTTL = defaultListTTL
	}
	return &Cache{client: client, taskTTL: taskTTL, listTTL: listTTL}
}

// GetTask returns the cached task detail, or (nil, nil) on a miss.
func (c *Cache) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := c.client.Get(ctx, taskCachePrefix+taskID).Bytes()
	if err != nil {
		if errors.Is(err, cacheMissSentinel) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached task %s: %w", taskID, err)
	}

	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		// A corrupt entry is a miss; the row is the source of truth.
		return nil, nil
	}
	return &task, nil
}

// SetTask caches the task detail under the task TTL.
func (c *Cache) SetTask(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s for cache: %w", task.ID, err)
	}
	if err := c.client.Set(ctx, taskCachePrefix+task.ID, data, c.taskTTL).Err(); err != nil {
		return fmt.Errorf("cache task %s: %w", task.ID, err)
	}
	return nil
}

// InvalidateTask drops the cached detail for the task.
func (c *Cache) InvalidateTask(ctx context.Context, taskID string) error {
	if err := c.client.Del(ctx, taskCachePrefix+taskID).Err(); err != nil {
		return fmt.Errorf("invalidate task cache %s: %w", taskID, err)
	}
	return nil
}

// GetOwnerList returns the cached unfiltered listing for the owner, or
// (nil, nil) on a miss.
func (c *Cache) GetOwnerList(ctx context.Context, ownerID string) ([]*domain.Task, error) {
	data, err := c.client.Get(ctx, ownerCachePrefix+ownerID).Bytes()
	if err != nil {
		if errors.Is(err, cacheMissSentinel) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached task list for %s: %w", ownerID, err)
	}

	var tasks []*domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, nil
	}
	return tasks, nil
}

// SetOwnerList caches the owner's unfiltered listing under the list TTL.
func (c *Cache) SetOwnerList(ctx context.Context, ownerID string, tasks []*domain.Task) error {
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("marshal task list for %s: %w", ownerID, err)
	}
	if err := c.client.Set(ctx, ownerCachePrefix+ownerID, data, c.listTTL).Err(); err != nil {
		return fmt.Errorf("cache task list for %s: %w", ownerID, err)
	}
	return nil
}

// InvalidateOwner drops the owner's cached listing.
func (c *Cache) InvalidateOwner(ctx context.Context, ownerID string) error {
	if err := c.client.Del(ctx, ownerCachePrefix+ownerID).Err(); err != nil {
		return fmt.Errorf("invalidate task list cache %s: %w", ownerID, err)
	}
	return nil
}

// SetTaskStatus records the task's current status under a TTL'd key, usable
// by collaborators that only need the status without a row read.
func (c *Cache) SetTaskStatus(ctx context.Context, taskID string, status domain.Status) error {
	if err := c.client.Set(ctx, taskStatusPrefix+taskID, string(status), taskStatusKeyTTL).Err(); err != nil {
		return fmt.Errorf("set task status %s: %w", taskID, err)
	}
	return nil
}

// DeleteTaskStatus removes the task's status key.
func (c *Cache) DeleteTaskStatus(ctx context.Context, taskID string) error {
	if err := c.client.Del(ctx, taskStatusPrefix+taskID).Err(); err != nil {
		return fmt.Errorf("delete task status %s: %w", taskID, err)
	}
	return nil
}
