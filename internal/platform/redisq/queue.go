package redisq

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pagelift/pagelift-api/internal/domain"
)

// queueKey returns the redis list holding the given priority tier.
func queueKey(priority domain.Priority) string {
	return fmt.Sprintf("tasks:%s", priority)
}

// Queue is the durable priority queue: three redis lists, one per tier.
// Producers push to the head, the scheduler pops from the tail, so each
// tier is FIFO. Queue membership is independent of the task row; during
// recovery a task can be queued without its row saying so yet.
type Queue struct {
	client *redis.Client
}

// NewQueue creates a Queue over the given redis client.
func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Enqueue appends the task id to the tail of its priority tier.
func (q *Queue) Enqueue(ctx context.Context, taskID string, priority domain.Priority) error {
	if err := q.client.LPush(ctx, queueKey(priority), taskID).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", taskID, err)
	}
	return nil
}

// Dequeue pops the oldest id from the given priority tier. Returns
// ("", nil) when the tier is empty.
func (q *Queue) Dequeue(ctx context.Context, priority domain.Priority) (string, error) {
	taskID, err := q.client.RPop(ctx, queueKey(priority)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("dequeue %s: %w", priority, err)
	}
	return taskID, nil
}

// Lengths returns the current depth of every priority tier.
func (q *Queue) Lengths(ctx context.Context) (map[domain.Priority]int64, error) {
	lengths := make(map[domain.Priority]int64, len(domain.PrioritiesInOrder))
	for _, priority := range domain.PrioritiesInOrder {
		n, err := q.client.LLen(ctx, queueKey(priority)).Result()
		if err != nil {
			return nil, fmt.Errorf("queue length %s: %w", priority, err)
		}
		lengths[priority] = n
	}
	return lengths, nil
}

// RemoveEverywhere removes every occurrence of the task id from all three
// tiers. Used on delete and cancel so a dead id is never re-dispatched.
func (q *Queue) RemoveEverywhere(ctx context.Context, taskID string) error {
	for _, priority := range domain.PrioritiesInOrder {
		if err := q.client.LRem(ctx, queueKey(priority), 0, taskID).Err(); err != nil {
			return fmt.Errorf("remove task %s from %s queue: %w", taskID, priority, err)
		}
	}
	return nil
}
