package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/notify"
	"github.com/pagelift/pagelift-api/internal/platform/blob"
	"github.com/pagelift/pagelift-api/internal/store"
)

type managerFixture struct {
	tasks *memTaskStore
	queue *memQueue
	cache *memCache
	blob  *memBlob
	hub   *notify.Hub
	sched *stubDispatcher
	mgr   *Manager
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		tasks: newMemTaskStore(),
		queue: newMemQueue(),
		cache: newMemCache(),
		blob:  newMemBlob(),
		hub:   notify.NewHub(discardLogger()),
		sched: newStubDispatcher(),
	}
	t.Cleanup(f.hub.Close)
	f.mgr = NewManager(f.tasks, f.queue, f.cache, f.blob, f.hub, f.sched, discardLogger())
	return f
}

func createRequest() CreateRequest {
	return CreateRequest{
		OwnerID:      "u1",
		OwnerEmail:   "u1@example.com",
		DocumentName: "paper.pdf",
		Workflow:     domain.WorkflowTranslate,
		Priority:     domain.PriorityHigh,
		SourceLang:   "en",
		TargetLang:   "de",
		PageCount:    12,
		File:         []byte("%PDF-1.7"),
	}
}

func TestManagerCreate(t *testing.T) {
	t.Parallel()

	t.Run("creates queued task, uploads input, enqueues and schedules", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		sub := f.hub.Subscribe("u1")
		t.Cleanup(func() { f.hub.Unsubscribe(sub) })

		task, err := f.mgr.Create(context.Background(), createRequest())
		require.NoError(t, err)

		assert.Equal(t, domain.StatusQueued, task.Status)
		assert.Equal(t, 0, task.Progress)
		assert.Equal(t, blob.InputKey("u1", task.ID), task.InputKey)
		assert.Equal(t, []byte("%PDF-1.7"), f.blob.objects[task.InputKey])
		assert.Equal(t, 1, f.queue.depth(domain.PriorityHigh))
		assert.Equal(t, []string{task.ID}, f.sched.scheduledIDs())
		require.NotNil(t, f.tasks.get(task.ID))

		event := <-sub.C
		assert.Equal(t, notify.EventTypeTaskUpdate, event.Type)
		assert.Equal(t, task.ID, event.Task.ID)
	})

	t.Run("unconfigured blob store fails before any persistence", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		f.blob.configured = false

		_, err := f.mgr.Create(context.Background(), createRequest())
		require.ErrorIs(t, err, blob.ErrNotConfigured)
		assert.Empty(t, f.tasks.rows)
		assert.Empty(t, f.blob.objects)
		assert.Equal(t, 0, f.queue.depth(domain.PriorityHigh))
	})

	t.Run("invalid request is rejected", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		req := createRequest()
		req.DocumentName = ""
		_, err := f.mgr.Create(context.Background(), req)
		require.Error(t, err)
		assert.Empty(t, f.tasks.rows)
	})
}

func TestManagerGet(t *testing.T) {
	t.Parallel()

	t.Run("cache hit skips the store", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		cached := seedTask(t, f.tasks, "t1", domain.StatusCompleted, domain.PriorityNormal)
		require.NoError(t, f.cache.SetTask(context.Background(), cached))
		require.NoError(t, f.tasks.Delete(context.Background(), "t1", cached.OwnerID))

		got, err := f.mgr.Get(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, "t1", got.ID)
	})

	t.Run("miss reads the store and repopulates", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		seedTask(t, f.tasks, "t1", domain.StatusQueued, domain.PriorityNormal)

		got, err := f.mgr.Get(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, "t1", got.ID)
		assert.NotNil(t, f.cache.tasks["t1"])
	})

	t.Run("unknown id is a not found error", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		_, err := f.mgr.Get(context.Background(), "missing")
		assert.True(t, store.IsNotFoundError(err))
	})
}

func TestManagerList(t *testing.T) {
	t.Parallel()

	t.Run("unfiltered first page is served from and refreshed into the cache", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		seedTask(t, f.tasks, "t1", domain.StatusQueued, domain.PriorityNormal)

		first, err := f.mgr.List(context.Background(), "owner-1", store.TaskFilters{}, 50, 0)
		require.NoError(t, err)
		require.Len(t, first, 1)
		assert.NotNil(t, f.cache.ownerLists["owner-1"])

		// Row goes away; the cached listing still serves.
		require.NoError(t, f.tasks.Delete(context.Background(), "t1", "owner-1"))
		second, err := f.mgr.List(context.Background(), "owner-1", store.TaskFilters{}, 50, 0)
		require.NoError(t, err)
		assert.Len(t, second, 1)
	})

	t.Run("filtered queries bypass the cache", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		seedTask(t, f.tasks, "t1", domain.StatusQueued, domain.PriorityNormal)
		seedTask(t, f.tasks, "t2", domain.StatusFailed, domain.PriorityNormal)

		got, err := f.mgr.List(context.Background(), "owner-1", store.TaskFilters{Status: domain.StatusFailed}, 50, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "t2", got[0].ID)
		assert.Nil(t, f.cache.ownerLists["owner-1"])
	})
}

func TestManagerRetry(t *testing.T) {
	t.Parallel()

	t.Run("clears outputs and error, resets to queued, re-enqueues", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		failed := seedTask(t, f.tasks, "t1", domain.StatusFailed, domain.PriorityLow)
		failed.Error = "engine unavailable"
		failed.Progress = 0
		failed.Output = domain.Artifact{Key: "outputs/owner-1/t1/dual.pdf", URL: "https://blob.example/x"}
		failed.ExtractJobID = "job-1"
		require.NoError(t, f.tasks.Update(context.Background(), failed))

		task, err := f.mgr.Retry(context.Background(), "t1")
		require.NoError(t, err)

		assert.Equal(t, domain.StatusQueued, task.Status)
		assert.Equal(t, 0, task.Progress)
		assert.Equal(t, "Waiting to be reprocessed", task.ProgressMessage)
		assert.Empty(t, task.Error)
		assert.True(t, task.Output.Empty())
		assert.Empty(t, task.ExtractJobID)
		assert.Nil(t, task.CompletedAt)
		assert.Equal(t, 1, f.queue.depth(domain.PriorityLow))
		assert.Equal(t, []string{"t1"}, f.sched.scheduledIDs())
	})

	t.Run("missing task reports not found", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		_, err := f.mgr.Retry(context.Background(), "missing")
		assert.True(t, store.IsNotFoundError(err))
		assert.Empty(t, f.sched.scheduledIDs())
	})
}

func TestManagerCancel(t *testing.T) {
	t.Parallel()

	t.Run("cancels the handle and records canceled", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		running := seedTask(t, f.tasks, "t1", domain.StatusProcessing, domain.PriorityNormal)
		running.Progress = 60
		require.NoError(t, f.tasks.Update(context.Background(), running))
		f.sched.hadHandles["t1"] = true

		task, err := f.mgr.Cancel(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCanceled, task.Status)
		assert.Equal(t, 0, task.Progress)
		assert.Equal(t, []string{"t1"}, f.sched.canceled)
		assert.Equal(t, domain.StatusCanceled, f.cache.statuses["t1"])
	})

	t.Run("unknown id reports not found", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		_, err := f.mgr.Cancel(context.Background(), "missing")
		assert.True(t, store.IsNotFoundError(err))
	})
}

func TestManagerDelete(t *testing.T) {
	t.Parallel()

	t.Run("removes row, queues, artifacts and caches", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		done := seedTask(t, f.tasks, "t1", domain.StatusCompleted, domain.PriorityNormal)
		done.InputKey = blob.InputKey("owner-1", "t1")
		done.Output = domain.Artifact{Key: blob.OutputKey("owner-1", "t1", "dual.pdf"), URL: "u"}
		done.MonoOutput = domain.Artifact{Key: blob.OutputKey("owner-1", "t1", "mono.pdf"), URL: "u"}
		done.ExtractJobID = "job-5"
		require.NoError(t, f.tasks.Update(context.Background(), done))
		require.NoError(t, f.queue.Enqueue(context.Background(), "t1", domain.PriorityNormal))

		require.NoError(t, f.mgr.Delete(context.Background(), "t1", "owner-1"))

		assert.Nil(t, f.tasks.get("t1"))
		assert.Contains(t, f.queue.removed, "t1")
		assert.Equal(t, 0, f.queue.depth(domain.PriorityNormal))
		assert.Contains(t, f.blob.deletedKeys, done.Output.Key)
		assert.Contains(t, f.blob.deletedKeys, done.MonoOutput.Key)
		assert.Contains(t, f.blob.deletedKeys, done.InputKey)
		assert.Contains(t, f.blob.deletedPrefixes, blob.OutputPrefix("owner-1", "t1"))
		assert.Contains(t, f.blob.deletedPrefixes, blob.ExtractJobPrefix("job-5"))
		assert.Equal(t, 1, f.cache.statusDeletes)
	})

	t.Run("foreign owner cannot delete", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		seedTask(t, f.tasks, "t1", domain.StatusCompleted, domain.PriorityNormal)

		err := f.mgr.Delete(context.Background(), "t1", "someone-else")
		assert.True(t, store.IsNotFoundError(err))
		assert.NotNil(t, f.tasks.get("t1"))
		assert.Empty(t, f.queue.removed)
	})
}

func TestManagerQueueStatus(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	f.sched.inFlight = 2
	f.sched.capacity = 3
	require.NoError(t, f.queue.Enqueue(context.Background(), "a", domain.PriorityHigh))
	require.NoError(t, f.queue.Enqueue(context.Background(), "b", domain.PriorityHigh))

	status, err := f.mgr.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, status.InFlight)
	assert.Equal(t, 3, status.Capacity)
	assert.Equal(t, int64(2), status.Queued[domain.PriorityHigh])
	assert.Equal(t, int64(0), status.Queued[domain.PriorityNormal])
}

// TestManagerEndToEnd wires a real Scheduler and a runner that completes the
// task through the manager's write-through, covering the full create to
// completed flow with notifications.
func TestManagerEndToEnd(t *testing.T) {
	t.Parallel()

	t.Run("high priority translate completes with output and two events", func(t *testing.T) {
		t.Parallel()
		tasks := newMemTaskStore()
		queue := newMemQueue()
		cache := newMemCache()
		blobStore := newMemBlob()
		hub := notify.NewHub(discardLogger())
		t.Cleanup(hub.Close)

		var mgr *Manager
		runner := &funcRunner{fn: func(ctx context.Context, task *domain.Task) error {
			task.Status = domain.StatusProcessing
			if err := mgr.ApplyUpdate(ctx, task); err != nil {
				return err
			}
			task.Output = domain.Artifact{
				Key: blob.OutputKey(task.OwnerID, task.ID, "dual.pdf"),
				URL: "https://blob.example/" + task.ID,
			}
			task.Status = domain.StatusCompleted
			task.Progress = 100
			return mgr.ApplyUpdate(ctx, task)
		}}
		sched := NewScheduler(tasks, queue, runner, 3, discardLogger())
		t.Cleanup(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		})
		mgr = NewManager(tasks, queue, cache, blobStore, hub, sched, discardLogger())

		sub := hub.Subscribe("u1")
		t.Cleanup(func() { hub.Unsubscribe(sub) })

		created, err := mgr.Create(context.Background(), createRequest())
		require.NoError(t, err)
		assert.Equal(t, domain.StatusQueued, created.Status)
		assert.Equal(t, 0, created.Progress)

		waitFor(t, time.Second, func() bool {
			row := tasks.get(created.ID)
			return row != nil && row.Status == domain.StatusCompleted
		}, "task completed")

		final := tasks.get(created.ID)
		assert.Equal(t, 100, final.Progress)
		assert.NotEmpty(t, final.Output.URL)
		require.NotNil(t, final.CompletedAt)

		var statuses []domain.Status
		waitFor(t, time.Second, func() bool { return len(sub.C) >= 3 }, "events delivered")
		for len(sub.C) > 0 {
			event := <-sub.C
			assert.Equal(t, notify.EventTypeTaskUpdate, event.Type)
			statuses = append(statuses, domain.Status(event.Task.Status))
		}
		assert.Equal(t, domain.StatusQueued, statuses[0], "creation event first")
		assert.Equal(t, domain.StatusCompleted, statuses[len(statuses)-1], "completion event last")
	})

	t.Run("create then immediate delete leaves a later monitor tick harmless", func(t *testing.T) {
		t.Parallel()
		tasks := newMemTaskStore()
		queue := newMemQueue()
		cache := newMemCache()
		blobStore := newMemBlob()
		hub := notify.NewHub(discardLogger())
		t.Cleanup(hub.Close)

		var runs int
		runner := &funcRunner{fn: func(context.Context, *domain.Task) error {
			runs++
			return nil
		}}
		// Create through a stub dispatcher so nothing executes before the
		// delete; the real scheduler only sees the later monitor tick.
		sched := NewScheduler(tasks, queue, runner, 1, discardLogger())
		createMgr := NewManager(tasks, queue, cache, blobStore, hub, newStubDispatcher(), discardLogger())
		created, err := createMgr.Create(context.Background(), createRequest())
		require.NoError(t, err)

		realMgr := NewManager(tasks, queue, cache, blobStore, hub, sched, discardLogger())
		require.NoError(t, realMgr.Delete(context.Background(), created.ID, "u1"))
		assert.Equal(t, 0, queue.depth(domain.PriorityHigh))

		// A monitor tick over the (now empty) queue and a direct schedule of
		// the missing id both stay quiet.
		sched.dispatch(context.Background())
		require.True(t, sched.Schedule(created.ID))
		waitFor(t, time.Second, func() bool { return sched.InFlight() == 0 }, "ghost run drained")
		assert.Zero(t, runs)

		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, sched.Stop(stopCtx))
	})
}
