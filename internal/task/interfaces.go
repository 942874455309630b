package task

import (
	"context"
	"time"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/notify"
)

// Queue is the durable priority queue consumed by the lifecycle. Implemented
// by redisq.Queue.
type Queue interface {
	Enqueue(ctx context.Context, taskID string, priority domain.Priority) error
	Dequeue(ctx context.Context, priority domain.Priority) (string, error)
	Lengths(ctx context.Context) (map[domain.Priority]int64, error)
	RemoveEverywhere(ctx context.Context, taskID string) error
}

// Cache is the short-TTL result cache. Implemented by redisq.Cache.
type Cache interface {
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	SetTask(ctx context.Context, task *domain.Task) error
	InvalidateTask(ctx context.Context, taskID string) error
	GetOwnerList(ctx context.Context, ownerID string) ([]*domain.Task, error)
	SetOwnerList(ctx context.Context, ownerID string, tasks []*domain.Task) error
	InvalidateOwner(ctx context.Context, ownerID string) error
	SetTaskStatus(ctx context.Context, taskID string, status domain.Status) error
	DeleteTaskStatus(ctx context.Context, taskID string) error
}

// BlobStore is the slice of the blob gateway the lifecycle needs.
// Implemented by blob.Gateway.
type BlobStore interface {
	Configured() bool
	Put(ctx context.Context, data []byte, key, contentType string) error
	PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Runner executes one task's workflow to a terminal state. Implemented by
// pipeline.Executor.
type Runner interface {
	Run(ctx context.Context, task *domain.Task) error
}

// RunnerFunc adapts a function to the Runner interface. Useful when the
// runner and the scheduler are constructed out of order.
type RunnerFunc func(ctx context.Context, task *domain.Task) error

func (f RunnerFunc) Run(ctx context.Context, task *domain.Task) error {
	return f(ctx, task)
}

// Notifier fans task events out to connected owners. Implemented by
// notify.Hub.
type Notifier interface {
	Publish(ownerID string, event *notify.Event)
}
