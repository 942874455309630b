package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/notify"
	"github.com/pagelift/pagelift-api/internal/store"
)

// defaultMonitorInterval is the queue polling cadence.
const defaultMonitorInterval = 5 * time.Second

// recoveryMessage is written to rows re-queued after a restart so the owner
// sees why the task went back to the queue.
const recoveryMessage = "Recovered after restart, re-queued"

// handle is one in-flight execution. The map entry is compared by pointer
// on removal so a restarted execution never deletes its successor's handle.
type handle struct {
	cancel context.CancelFunc
}

// Scheduler launches queued tasks under a bounded concurrency budget. At
// most one in-flight handle exists per task id; scheduling an id that is
// already running cancels the prior run first.
type Scheduler struct {
	tasks  store.TaskStore
	queue  Queue
	runner Runner
	logger *slog.Logger

	capacity atomic.Int64

	mu      sync.Mutex
	handles map[string]*handle

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	monitorInterval time.Duration
}

// NewScheduler creates a Scheduler with the given concurrency capacity.
func NewScheduler(tasks store.TaskStore, queue Queue, runner Runner, capacity int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity < 1 {
		capacity = 1
	}
	baseCtx, stop := context.WithCancel(context.Background())
	s := &Scheduler{
		tasks:           tasks,
		queue:           queue,
		runner:          runner,
		logger:          logger,
		handles:         make(map[string]*handle),
		baseCtx:         baseCtx,
		stop:            stop,
		monitorInterval: defaultMonitorInterval,
	}
	s.capacity.Store(int64(capacity))
	return s
}

// SetMonitorInterval overrides the dispatch polling cadence. Must be
// called before StartMonitor.
func (s *Scheduler) SetMonitorInterval(d time.Duration) {
	if d > 0 {
		s.monitorInterval = d
	}
}

// SetCapacity changes the concurrency budget. Executions already in flight
// are unaffected; the new budget applies at the next admission.
func (s *Scheduler) SetCapacity(n int) {
	if n < 1 {
		n = 1
	}
	s.capacity.Store(int64(n))
	s.logger.Info("scheduler capacity changed", "capacity", n)
}

// Capacity returns the current concurrency budget.
func (s *Scheduler) Capacity() int {
	return int(s.capacity.Load())
}

// InFlight returns the number of executions currently holding a handle.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Schedule starts an execution for id. A prior handle for the same id is
// canceled first. When the in-flight count is already at capacity the call
// reports false and starts nothing; the id stays in the durable queue for
// the monitor loop. Returns true when an execution was launched.
func (s *Scheduler) Schedule(id string) bool {
	s.mu.Lock()
	if prior, ok := s.handles[id]; ok {
		prior.cancel()
		delete(s.handles, id)
	}
	if int64(len(s.handles)) >= s.capacity.Load() {
		s.mu.Unlock()
		s.logger.Info("concurrency budget exhausted, task stays queued", "task_id", id)
		return false
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	h := &handle{cancel: cancel}
	s.handles[id] = h
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(id, h)
		defer cancel()
		s.execute(runCtx, id)
	}()
	return true
}

// CancelJob cancels the in-flight execution for id, if any, and reports
// whether a handle existed.
func (s *Scheduler) CancelJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok {
		return false
	}
	h.cancel()
	delete(s.handles, id)
	return true
}

// release removes the handle after an execution ends, unless a restart
// already replaced it.
func (s *Scheduler) release(id string, h *handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles[id] == h {
		delete(s.handles, id)
	}
}

// execute loads the task row and runs its workflow. A missing row is
// tolerated: the task was deleted between enqueue and dispatch.
func (s *Scheduler) execute(ctx context.Context, id string) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			s.logger.Info("scheduled task no longer exists", "task_id", id)
			return
		}
		s.logger.Error("loading scheduled task", "task_id", id, "error", err)
		return
	}
	if task.Status.Terminal() {
		s.logger.Info("scheduled task already settled", "task_id", id, "status", task.Status)
		return
	}

	if err := s.runner.Run(ctx, task); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("task execution ended with error", "task_id", id, "error", err)
	}
}

// StartMonitor runs the dispatch loop until Stop is called: once per
// interval it pops queued ids, highest priority first, while below the
// concurrency budget. Individual iteration errors are logged and never end
// the loop.
func (s *Scheduler) StartMonitor() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.monitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.baseCtx.Done():
				return
			case <-ticker.C:
				s.dispatch(s.baseCtx)
			}
		}
	}()
}

// dispatch pops and schedules until the queues are drained or the budget
// is spent.
func (s *Scheduler) dispatch(ctx context.Context) {
	for s.InFlight() < s.Capacity() {
		id, priority, err := s.pop(ctx)
		if err != nil {
			s.logger.Warn("queue poll failed", "error", err)
			return
		}
		if id == "" {
			return
		}
		if !s.Schedule(id) {
			// Lost the race for the last slot; put the id back.
			if err := s.queue.Enqueue(ctx, id, priority); err != nil {
				s.logger.Error("requeueing task after admission race", "task_id", id, "error", err)
			}
			return
		}
	}
}

// pop returns the next queued id in strict priority order, or "" when all
// tiers are empty.
func (s *Scheduler) pop(ctx context.Context) (string, domain.Priority, error) {
	for _, priority := range domain.PrioritiesInOrder {
		id, err := s.queue.Dequeue(ctx, priority)
		if err != nil {
			return "", priority, err
		}
		if id != "" {
			return id, priority, nil
		}
	}
	return "", "", nil
}

// ResumeStalled re-queues tasks a previous process instance left in
// processing. Recovery is best-effort with per-row isolation: one bad row
// is logged and skipped, never aborting the pass. Idempotent, since a
// recovered row is no longer in processing.
func (s *Scheduler) ResumeStalled(ctx context.Context, cache Cache, hub Notifier, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stalled, err := s.tasks.GetByStatus(ctx, domain.StatusProcessing)
	if err != nil {
		return err
	}
	if len(stalled) == 0 {
		return nil
	}

	recovered := 0
	for _, t := range stalled {
		if ctx.Err() != nil {
			s.logger.Warn("recovery pass timed out", "recovered", recovered, "stalled", len(stalled))
			return ctx.Err()
		}

		t.Status = domain.StatusQueued
		t.Progress = 0
		t.ProgressMessage = recoveryMessage
		if err := s.tasks.Update(ctx, t); err != nil {
			s.logger.Error("recovering stalled task", "task_id", t.ID, "error", err)
			continue
		}
		if err := s.queue.Enqueue(ctx, t.ID, t.Priority); err != nil {
			s.logger.Error("re-enqueueing recovered task", "task_id", t.ID, "error", err)
			continue
		}

		if cache != nil {
			if err := cache.InvalidateTask(ctx, t.ID); err != nil {
				s.logger.Warn("cache invalidation during recovery failed", "task_id", t.ID, "error", err)
			}
			if err := cache.InvalidateOwner(ctx, t.OwnerID); err != nil {
				s.logger.Warn("owner cache invalidation during recovery failed", "task_id", t.ID, "error", err)
			}
			if err := cache.SetTaskStatus(ctx, t.ID, t.Status); err != nil {
				s.logger.Warn("status key write during recovery failed", "task_id", t.ID, "error", err)
			}
		}
		if hub != nil {
			hub.Publish(t.OwnerID, notify.NewTaskUpdateEvent(t))
		}
		recovered++
	}

	s.logger.Info("recovery pass finished", "recovered", recovered, "stalled", len(stalled))
	return nil
}

// Stop cancels every in-flight execution and the monitor loop, then waits
// for them to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
