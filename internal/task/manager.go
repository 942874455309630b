package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/notify"
	"github.com/pagelift/pagelift-api/internal/platform/blob"
	"github.com/pagelift/pagelift-api/internal/store"
)

// Dispatcher is the slice of the Scheduler the Manager drives.
type Dispatcher interface {
	Schedule(id string) bool
	CancelJob(id string) bool
	InFlight() int
	Capacity() int
}

// CreateRequest carries everything needed to create a task.
type CreateRequest struct {
	OwnerID          string
	OwnerEmail       string
	DocumentName     string
	Workflow         domain.Workflow
	Priority         domain.Priority
	SourceLang       string
	TargetLang       string
	Engine           string
	Notes            string
	ProviderConfigID string
	Overrides        json.RawMessage
	PageCount        int
	File             []byte
	ContentType      string
}

// QueueStatus reports the scheduler's budget and the depth of each
// priority tier.
type QueueStatus struct {
	InFlight int                       `json:"inFlight"`
	Capacity int                       `json:"capacity"`
	Queued   map[domain.Priority]int64 `json:"queued"`
}

// Manager is the task lifecycle facade.
type Manager struct {
	tasks  store.TaskStore
	queue  Queue
	cache  Cache
	blob   BlobStore
	hub    Notifier
	sched  Dispatcher
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(tasks store.TaskStore, queue Queue, cache Cache, blobStore BlobStore, hub Notifier, sched Dispatcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tasks:  tasks,
		queue:  queue,
		cache:  cache,
		blob:   blobStore,
		hub:    hub,
		sched:  sched,
		logger: logger,
	}
}

// Create uploads the input, inserts the task in queued state, enqueues it
// and immediately attempts to schedule it. The blob store configuration is
// checked before anything is persisted so callers can charge quota safely.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*domain.Task, error) {
	if !m.blob.Configured() {
		return nil, blob.ErrNotConfigured
	}

	task, err := domain.NewTask(req.OwnerID, req.OwnerEmail, req.DocumentName, req.Workflow, req.Priority)
	if err != nil {
		return nil, err
	}
	task.SourceLang = req.SourceLang
	task.TargetLang = req.TargetLang
	task.Engine = req.Engine
	task.Notes = req.Notes
	task.ProviderConfigID = req.ProviderConfigID
	task.Overrides = req.Overrides
	task.PageCount = req.PageCount
	task.InputKey = blob.InputKey(task.OwnerID, task.ID)
	if err := task.Validate(); err != nil {
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	if err := m.blob.Put(ctx, req.File, task.InputKey, contentType); err != nil {
		return nil, fmt.Errorf("uploading input document: %w", err)
	}

	if err := m.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	m.afterWrite(ctx, task)

	if err := m.queue.Enqueue(ctx, task.ID, task.Priority); err != nil {
		return nil, fmt.Errorf("enqueueing task %s: %w", task.ID, err)
	}
	m.sched.Schedule(task.ID)

	m.logger.InfoContext(ctx, "task created",
		"task_id", task.ID, "owner_id", task.OwnerID,
		"workflow", task.Workflow, "priority", task.Priority)
	return task, nil
}

// Get returns one task, cache-first.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Task, error) {
	if cached, err := m.cache.GetTask(ctx, id); err == nil && cached != nil {
		return cached, nil
	}

	task, err := m.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.cache.SetTask(ctx, task); err != nil {
		m.logger.WarnContext(ctx, "task cache write failed", "task_id", id, "error", err)
	}
	return task, nil
}

// List returns the owner's tasks, newest first. The unfiltered first page
// is served from and refreshed into the owner cache; any filtered or
// offset query goes straight to the store.
func (m *Manager) List(ctx context.Context, ownerID string, filters store.TaskFilters, limit, offset int) ([]*domain.Task, error) {
	unfiltered := filters.Empty() && offset == 0
	if unfiltered {
		if cached, err := m.cache.GetOwnerList(ctx, ownerID); err == nil && cached != nil {
			if limit > 0 && len(cached) > limit {
				cached = cached[:limit]
			}
			return cached, nil
		}
	}

	tasks, err := m.tasks.ListByOwner(ctx, ownerID, filters, limit, offset)
	if err != nil {
		return nil, err
	}
	if unfiltered {
		if err := m.cache.SetOwnerList(ctx, ownerID, tasks); err != nil {
			m.logger.WarnContext(ctx, "owner list cache write failed", "owner_id", ownerID, "error", err)
		}
	}
	return tasks, nil
}

// Retry clears the outputs and error of an existing task, resets it to
// queued at progress 0, re-enqueues it and attempts to schedule it.
func (m *Manager) Retry(ctx context.Context, id string) (*domain.Task, error) {
	task, err := m.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	task.ClearOutputs()
	task.Status = domain.StatusQueued
	task.Progress = 0
	task.ProgressMessage = "Waiting to be reprocessed"
	if err := m.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	m.afterWrite(ctx, task)

	if err := m.queue.Enqueue(ctx, task.ID, task.Priority); err != nil {
		return nil, fmt.Errorf("re-enqueueing task %s: %w", task.ID, err)
	}
	m.sched.Schedule(task.ID)

	m.logger.InfoContext(ctx, "task retried", "task_id", task.ID)
	return task, nil
}

// Cancel cancels the in-flight execution, if any, then records the task as
// canceled with progress 0.
func (m *Manager) Cancel(ctx context.Context, id string) (*domain.Task, error) {
	task, err := m.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	hadHandle := m.sched.CancelJob(id)
	task.Status = domain.StatusCanceled
	task.Progress = 0
	task.ProgressMessage = ""
	if err := m.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	m.afterWrite(ctx, task)

	m.logger.InfoContext(ctx, "task canceled", "task_id", id, "was_running", hadHandle)
	return task, nil
}

// Delete removes the task owned by ownerID: cancel any execution, remove
// the id from every priority tier, delete the row, then clean up storage
// and caches. Metadata removal is the success criterion; storage cleanup is
// advisory and failures are only logged.
func (m *Manager) Delete(ctx context.Context, id, ownerID string) error {
	task, err := m.tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task.OwnerID != ownerID {
		return store.ErrTaskNotFound
	}

	m.sched.CancelJob(id)
	if err := m.queue.RemoveEverywhere(ctx, id); err != nil {
		m.logger.WarnContext(ctx, "queue removal failed", "task_id", id, "error", err)
	}
	if err := m.tasks.Delete(ctx, id, ownerID); err != nil {
		return err
	}

	m.cleanupStorage(ctx, task)

	if err := m.cache.InvalidateTask(ctx, id); err != nil {
		m.logger.WarnContext(ctx, "task cache invalidation failed", "task_id", id, "error", err)
	}
	if err := m.cache.InvalidateOwner(ctx, ownerID); err != nil {
		m.logger.WarnContext(ctx, "owner cache invalidation failed", "owner_id", ownerID, "error", err)
	}
	if err := m.cache.DeleteTaskStatus(ctx, id); err != nil {
		m.logger.WarnContext(ctx, "status key removal failed", "task_id", id, "error", err)
	}
	m.hub.Publish(ownerID, notify.NewTaskUpdateEvent(task))

	m.logger.InfoContext(ctx, "task deleted", "task_id", id, "owner_id", ownerID)
	return nil
}

// QueueStatus reports the scheduler budget and queue depths.
func (m *Manager) QueueStatus(ctx context.Context) (*QueueStatus, error) {
	lengths, err := m.queue.Lengths(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStatus{
		InFlight: m.sched.InFlight(),
		Capacity: m.sched.Capacity(),
		Queued:   lengths,
	}, nil
}

// ApplyUpdate is the pipeline's write-through callback: persist the row,
// then refresh caches and notify. Satisfies pipeline.UpdateFunc.
func (m *Manager) ApplyUpdate(ctx context.Context, task *domain.Task) error {
	if err := m.tasks.Update(ctx, task); err != nil {
		return err
	}
	m.afterWrite(ctx, task)
	return nil
}

// afterWrite runs the post-commit tail of every mutation: invalidate
// caches, refresh the status key, publish to the owner's channel. All
// best-effort.
func (m *Manager) afterWrite(ctx context.Context, task *domain.Task) {
	if err := m.cache.InvalidateTask(ctx, task.ID); err != nil {
		m.logger.WarnContext(ctx, "task cache invalidation failed", "task_id", task.ID, "error", err)
	}
	if err := m.cache.InvalidateOwner(ctx, task.OwnerID); err != nil {
		m.logger.WarnContext(ctx, "owner cache invalidation failed", "owner_id", task.OwnerID, "error", err)
	}
	if err := m.cache.SetTaskStatus(ctx, task.ID, task.Status); err != nil {
		m.logger.WarnContext(ctx, "status key write failed", "task_id", task.ID, "error", err)
	}
	m.hub.Publish(task.OwnerID, notify.NewTaskUpdateEvent(task))
}

// cleanupStorage best-effort deletes every known artifact, the task's
// output prefix, and the extraction vendor's mirrored prefix.
func (m *Manager) cleanupStorage(ctx context.Context, task *domain.Task) {
	for _, key := range task.OutputKeys() {
		if err := m.blob.Delete(ctx, key); err != nil {
			m.logger.WarnContext(ctx, "artifact delete failed", "task_id", task.ID, "key", key, "error", err)
		}
	}
	if err := m.blob.DeletePrefix(ctx, blob.OutputPrefix(task.OwnerID, task.ID)); err != nil {
		m.logger.WarnContext(ctx, "output prefix delete failed", "task_id", task.ID, "error", err)
	}
	if task.ExtractJobID != "" {
		if err := m.blob.DeletePrefix(ctx, blob.ExtractJobPrefix(task.ExtractJobID)); err != nil {
			m.logger.WarnContext(ctx, "extract prefix delete failed", "task_id", task.ID, "job_id", task.ExtractJobID, "error", err)
		}
	}
}
