package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/store"
)

// memTaskStore is an in-memory store.TaskStore.
type memTaskStore struct {
	mu        sync.Mutex
	rows      map[string]*domain.Task
	updateErr map[string]error
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{rows: map[string]*domain.Task{}, updateErr: map[string]error{}}
}

func (s *memTaskStore) Create(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[task.ID]; exists {
		return store.ErrDuplicate
	}
	copied := *task
	s.rows[task.ID] = &copied
	return nil
}

func (s *memTaskStore) GetByID(_ context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	copied := *row
	return &copied, nil
}

func (s *memTaskStore) ListByOwner(_ context.Context, ownerID string, filters store.TaskFilters, limit, offset int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []*domain.Task
	for _, row := range s.rows {
		if row.OwnerID != ownerID {
			continue
		}
		if filters.Status != "" && row.Status != filters.Status {
			continue
		}
		if filters.Priority != "" && row.Priority != filters.Priority {
			continue
		}
		copied := *row
		tasks = append(tasks, &copied)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	if offset < len(tasks) {
		tasks = tasks[offset:]
	} else {
		tasks = nil
	}
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *memTaskStore) GetByStatus(_ context.Context, status domain.Status) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []*domain.Task
	for _, row := range s.rows {
		if row.Status == status {
			copied := *row
			tasks = append(tasks, &copied)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

func (s *memTaskStore) Update(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.updateErr[task.ID]; ok {
		return err
	}
	if _, ok := s.rows[task.ID]; !ok {
		return store.ErrTaskNotFound
	}
	if task.Status == domain.StatusCompleted {
		task.Progress = 100
		if task.CompletedAt == nil {
			now := time.Now().UTC()
			task.CompletedAt = &now
		}
	}
	task.UpdatedAt = time.Now().UTC()
	copied := *task
	s.rows[task.ID] = &copied
	return nil
}

func (s *memTaskStore) Delete(_ context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.OwnerID != ownerID {
		return store.ErrTaskNotFound
	}
	delete(s.rows, id)
	return nil
}


func (s *memTaskStore) get(id string) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil
	}
	copied := *row
	return &copied
}

// memQueue is an in-memory FIFO per priority tier.
type memQueue struct {
	mu         sync.Mutex
	tiers      map[domain.Priority][]string
	dequeueErr error
	removed    []string
}

func newMemQueue() *memQueue {
	return &memQueue{tiers: map[domain.Priority][]string{}}
}

func (q *memQueue) Enqueue(_ context.Context, taskID string, priority domain.Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tiers[priority] = append(q.tiers[priority], taskID)
	return nil
}

func (q *memQueue) Dequeue(_ context.Context, priority domain.Priority) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dequeueErr != nil {
		return "", q.dequeueErr
	}
	tier := q.tiers[priority]
	if len(tier) == 0 {
		return "", nil
	}
	id := tier[0]
	q.tiers[priority] = tier[1:]
	return id, nil
}

func (q *memQueue) Lengths(_ context.Context) (map[domain.Priority]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	lengths := make(map[domain.Priority]int64, len(domain.PrioritiesInOrder))
	for _, p := range domain.PrioritiesInOrder {
		lengths[p] = int64(len(q.tiers[p]))
	}
	return lengths, nil
}

func (q *memQueue) RemoveEverywhere(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = append(q.removed, taskID)
	for p, tier := range q.tiers {
		kept := tier[:0]
		for _, id := range tier {
			if id != taskID {
				kept = append(kept, id)
			}
		}
		q.tiers[p] = kept
	}
	return nil
}

func (q *memQueue) depth(priority domain.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tiers[priority])
}

// memCache is an in-memory Cache that counts invalidations.
type memCache struct {
	mu             sync.Mutex
	tasks          map[string]*domain.Task
	ownerLists     map[string][]*domain.Task
	statuses       map[string]domain.Status
	taskInvalidate int
	listInvalidate int
	statusDeletes  int
}

func newMemCache() *memCache {
	return &memCache{
		tasks:      map[string]*domain.Task{},
		ownerLists: map[string][]*domain.Task{},
		statuses:   map[string]domain.Status{},
	}
}

func (c *memCache) GetTask(_ context.Context, taskID string) (*domain.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tasks[taskID], nil
}

func (c *memCache) SetTask(_ context.Context, task *domain.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *task
	c.tasks[task.ID] = &copied
	return nil
}

func (c *memCache) InvalidateTask(_ context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, taskID)
	c.taskInvalidate++
	return nil
}

func (c *memCache) GetOwnerList(_ context.Context, ownerID string) ([]*domain.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownerLists[ownerID], nil
}

func (c *memCache) SetOwnerList(_ context.Context, ownerID string, tasks []*domain.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownerLists[ownerID] = tasks
	return nil
}

func (c *memCache) InvalidateOwner(_ context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ownerLists, ownerID)
	c.listInvalidate++
	return nil
}

func (c *memCache) SetTaskStatus(_ context.Context, taskID string, status domain.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[taskID] = status
	return nil
}

func (c *memCache) DeleteTaskStatus(_ context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, taskID)
	c.statusDeletes++
	return nil
}

// memBlob is an in-memory BlobStore recording deletes.
type memBlob struct {
	mu              sync.Mutex
	configured      bool
	objects         map[string][]byte
	deletedKeys     []string
	deletedPrefixes []string
}

func newMemBlob() *memBlob {
	return &memBlob{configured: true, objects: map[string][]byte{}}
}

func (b *memBlob) Configured() bool { return b.configured }

func (b *memBlob) Put(_ context.Context, data []byte, key, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *memBlob) PresignedGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blob.example/" + key, nil
}

func (b *memBlob) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	b.deletedKeys = append(b.deletedKeys, key)
	return nil
}

func (b *memBlob) DeletePrefix(_ context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletedPrefixes = append(b.deletedPrefixes, prefix)
	return nil
}

// funcRunner adapts a function to Runner.
type funcRunner struct {
	fn func(ctx context.Context, task *domain.Task) error
}

func (r *funcRunner) Run(ctx context.Context, task *domain.Task) error {
	return r.fn(ctx, task)
}

// stubDispatcher records Manager dispatch calls without running anything.
type stubDispatcher struct {
	mu         sync.Mutex
	scheduled  []string
	canceled   []string
	hadHandles map[string]bool
	inFlight   int
	capacity   int
}

func newStubDispatcher() *stubDispatcher {
	return &stubDispatcher{hadHandles: map[string]bool{}, capacity: 3}
}

func (d *stubDispatcher) Schedule(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduled = append(d.scheduled, id)
	return true
}

func (d *stubDispatcher) CancelJob(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canceled = append(d.canceled, id)
	return d.hadHandles[id]
}

func (d *stubDispatcher) InFlight() int { return d.inFlight }
func (d *stubDispatcher) Capacity() int { return d.capacity }

func (d *stubDispatcher) scheduledIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.scheduled...)
}
