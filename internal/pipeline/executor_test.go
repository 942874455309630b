package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/platform/blob"
	"github.com/pagelift/pagelift-api/internal/provider"
)

// fakeBlob is an in-memory pipeline.Blob.
type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
	putErr  error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: map[string][]byte{}}
}

func (f *fakeBlob) Put(_ context.Context, data []byte, key, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeBlob) Get(_ context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object at %s", key)
	}
	return data, nil
}

func (f *fakeBlob) PresignedGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blob.example/" + key, nil
}

// fakeProvider returns a canned result after emitting canned progress.
type fakeProvider struct {
	progress []provider.Progress
	result   *provider.Result
	err      error
	block    chan struct{}
	calls    int
}

func (f *fakeProvider) Execute(ctx context.Context, _ provider.Request, onProgress provider.ProgressFunc) (*provider.Result, error) {
	f.calls++
	for _, p := range f.progress {
		if onProgress != nil {
			onProgress(p)
		}
	}
	if f.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.block:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeResolver struct {
	settings provider.Settings
	err      error
}

func (f *fakeResolver) Resolve(context.Context, *domain.Task, string) (provider.Settings, error) {
	return f.settings, f.err
}

// recorder captures every write-through as a task snapshot.
type recorder struct {
	mu        sync.Mutex
	snapshots []domain.Task
	err       error
}

func (r *recorder) update(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.snapshots = append(r.snapshots, *task)
	return nil
}

func (r *recorder) last(t *testing.T) domain.Task {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.snapshots)
	return r.snapshots[len(r.snapshots)-1]
}

func (r *recorder) progressValues() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	values := make([]int, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		values = append(values, s.Progress)
	}
	return values
}

func newRunTask(t *testing.T, workflow domain.Workflow) *domain.Task {
	t.Helper()
	task, err := domain.NewTask("owner-1", "owner@example.com", "doc.pdf", workflow, domain.PriorityNormal)
	require.NoError(t, err)
	task.SourceLang = "en"
	task.TargetLang = "fr"
	task.InputKey = blob.InputKey(task.OwnerID, task.ID)
	return task
}

func TestExecutorTranslate(t *testing.T) {
	t.Parallel()

	t.Run("successful run completes with the dual variant as primary", func(t *testing.T) {
		t.Parallel()
		task := newRunTask(t, domain.WorkflowTranslate)
		b := newFakeBlob()
		b.objects[task.InputKey] = []byte("%PDF-1.7")
		rec := &recorder{}
		translator := &fakeProvider{
			progress: []provider.Progress{
				{Stage: "translating", Overall: 20},
				{Stage: "translating", Overall: 100},
			},
			result: &provider.Result{Outputs: map[string][]byte{
				"mono": []byte("mono-bytes"),
				"dual": []byte("dual-bytes"),
			}},
		}
		exec := NewExecutor(b, provider.Registry{Translator: translator}, &fakeResolver{}, rec.update)

		require.NoError(t, exec.Run(context.Background(), task))

		final := rec.last(t)
		assert.Equal(t, domain.StatusCompleted, final.Status)
		assert.Equal(t, 100, final.Progress)
		assert.Equal(t, final.DualOutput, final.Output)
		assert.NotEmpty(t, final.MonoOutput.URL)
		assert.Equal(t, []byte("dual-bytes"), b.objects[final.DualOutput.Key])

		first := rec.snapshots[0]
		assert.Equal(t, domain.StatusProcessing, first.Status)
	})

	t.Run("progress is monotonically non-decreasing", func(t *testing.T) {
		t.Parallel()
		task := newRunTask(t, domain.WorkflowTranslate)
		b := newFakeBlob()
		b.objects[task.InputKey] = []byte("%PDF-1.7")
		rec := &recorder{}
		translator := &fakeProvider{
			progress: []provider.Progress{
				{Stage: "translating", Overall: 80},
				{Stage: "translating", Overall: 30},
				{Stage: "translating", Overall: 80},
			},
			result: &provider.Result{Outputs: map[string][]byte{"mono": []byte("m")}},
		}
		exec := NewExecutor(b, provider.Registry{Translator: translator}, &fakeResolver{}, rec.update)

		require.NoError(t, exec.Run(context.Background(), task))

		values := rec.progressValues()
		for i := 1; i < len(values); i++ {
			assert.GreaterOrEqual(t, values[i], values[i-1], "write %d regressed", i)
		}
	})

	t.Run("duplicate provider reports do not produce duplicate writes", func(t *testing.T) {
		t.Parallel()
		task := newRunTask(t, domain.WorkflowTranslate)
		b := newFakeBlob()
		b.objects[task.InputKey] = []byte("%PDF-1.7")
		rec := &recorder{}
		translator := &fakeProvider{
			progress: []provider.Progress{
				{Stage: "translating", Overall: 50},
				{Stage: "translating", Overall: 50},
				{Stage: "translating", Overall: 50},
			},
			result: &provider.Result{Outputs: map[string][]byte{"mono": []byte("m")}},
		}
		exec := NewExecutor(b, provider.Registry{Translator: translator}, &fakeResolver{}, rec.update)

		require.NoError(t, exec.Run(context.Background(), task))

		seen := map[int]int{}
		for _, v := range rec.progressValues() {
			seen[v]++
		}
		assert.Equal(t, 1, seen[52], "mid-band value should be written once")
	})

	t.Run("no output variant fails the task with a diagnostic", func(t *testing.T) {
		t.Parallel()
		task := newRunTask(t, domain.WorkflowTranslate)
		b := newFakeBlob()
		b.objects[task.InputKey] = []byte("%PDF-1.7")
		rec := &recorder{}
		translator := &fakeProvider{result: &provider.Result{Outputs: map[string][]byte{}}}
		exec := NewExecutor(b, provider.Registry{Translator: translator}, &fakeResolver{}, rec.update)

		err := exec.Run(context.Background(), task)
		require.ErrorIs(t, err, ErrNoOutput)

		final := rec.last(t)
		assert.Equal(t, domain.StatusFailed, final.Status)
		assert.Equal(t, 0, final.Progress)
		assert.Contains(t, final.Error, "completed but no output produced")
	})

	t.Run("provider error marks the task failed and skips uploads", func(t *testing.T) {
		t.Parallel()
		task := newRunTask(t, domain.WorkflowTranslate)
		b := newFakeBlob()
		b.objects[task.InputKey] = []byte("%PDF-1.7")
		rec := &recorder{}
		translator := &fakeProvider{err: &provider.APIError{Provider: "translation", Message: "engine unavailable"}}
		exec := NewExecutor(b, provider.Registry{Translator: translator}, &fakeResolver{}, rec.update)

		err := exec.Run(context.Background(), task)
		require.Error(t, err)

		final := rec.last(t)
		assert.Equal(t, domain.StatusFailed, final.Status)
		assert.Contains(t, final.Error, "engine unavailable")
		assert.Len(t, b.objects, 1, "only the input should exist")
	})

	t.Run("configuration error marks the task failed", func(t *testing.T) {
		t.Parallel()
		task := newRunTask(t, domain.WorkflowTranslate)
		b := newFakeBlob()
		b.objects[task.InputKey] = []byte("%PDF-1.7")
		rec := &recorder{}
		exec := NewExecutor(b, provider.Registry{Translator: &fakeProvider{}}, &fakeResolver{err: provider.ErrDisabled}, rec.update)

		err := exec.Run(context.Background(), task)
		require.ErrorIs(t, err, provider.ErrDisabled)
		assert.Equal(t, domain.StatusFailed, rec.last(t).Status)
	})

	t.Run("cancellation aborts without marking failed", func(t *testing.T) {
		t.Parallel()
		task := newRunTask(t, domain.WorkflowTranslate)
		b := newFakeBlob()
		b.objects[task.InputKey] = []byte("%PDF-1.7")
		rec := &recorder{}
		translator := &fakeProvider{block: make(chan struct{})}
		exec := NewExecutor(b, provider.Registry{Translator: translator}, &fakeResolver{}, rec.update)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		err := exec.Run(ctx, task)
		require.ErrorIs(t, err, context.Canceled)

		for _, s := range rec.snapshots {
			assert.NotEqual(t, domain.StatusFailed, s.Status)
			assert.NotEqual(t, domain.StatusCompleted, s.Status)
		}
	})
}

func TestExecutorExtract(t *testing.T) {
	t.Parallel()

	t.Run("persists markdown and archive and records the job id", func(t *testing.T) {
		t.Parallel()
		task := newRunTask(t, domain.WorkflowExtract)
		b := newFakeBlob()
		b.objects[task.InputKey] = []byte("%PDF-1.7")
		rec := &recorder{}
		extractor := &fakeProvider{
			progress: []provider.Progress{
				{Stage: "submitted", Overall: 0, JobID: "job-42"},
				{Stage: "extracting", Overall: 50, JobID: "job-42"},
			},
			result: &provider.Result{Content: "# doc", Archive: []byte("zip"), JobID: "job-42"},
		}
		exec := NewExecutor(b, provider.Registry{Extractor: extractor}, &fakeResolver{}, rec.update)

		require.NoError(t, exec.Run(context.Background(), task))

		final := rec.last(t)
		assert.Equal(t, domain.StatusCompleted, final.Status)
		assert.Equal(t, "job-42", final.ExtractJobID)
		assert.Equal(t, final.MarkdownOutput, final.Output)
		assert.Equal(t, []byte("# doc"), b.objects[final.MarkdownOutput.Key])
		assert.Equal(t, []byte("zip"), b.objects[final.ArchiveOutput.Key])
	})

	t.Run("empty extraction result fails the task", func(t *testing.T) {
		t.Parallel()
		task := newRunTask(t, domain.WorkflowExtract)
		b := newFakeBlob()
		b.objects[task.InputKey] = []byte("%PDF-1.7")
		rec := &recorder{}
		extractor := &fakeProvider{result: &provider.Result{Content: ""}}
		exec := NewExecutor(b, provider.Registry{Extractor: extractor}, &fakeResolver{}, rec.update)

		err := exec.Run(context.Background(), task)
		require.ErrorIs(t, err, ErrNoOutput)
		assert.Equal(t, domain.StatusFailed, rec.last(t).Status)
	})
}

func TestExecutorExtractThenTranslate(t *testing.T) {
	t.Parallel()

	t.Run("persists originals then the translated markdown", func(t *testing.T) {
		t.Parallel()
		task := newRunTask(t, domain.WorkflowExtractThenTranslate)
		b := newFakeBlob()
		b.objects[task.InputKey] = []byte("%PDF-1.7")
		rec := &recorder{}
		extractor := &fakeProvider{
			progress: []provider.Progress{{Stage: "extracting", Overall: 60, JobID: "job-9"}},
			result:   &provider.Result{Content: "# original", Archive: []byte("zip"), JobID: "job-9"},
		}
		translator := &fakeProvider{
			progress: []provider.Progress{{Stage: "translating", Overall: 50}},
			result:   &provider.Result{Content: "# traduit"},
		}
		exec := NewExecutor(b, provider.Registry{Translator: translator, Extractor: extractor}, &fakeResolver{}, rec.update)

		require.NoError(t, exec.Run(context.Background(), task))

		final := rec.last(t)
		assert.Equal(t, domain.StatusCompleted, final.Status)
		assert.Equal(t, "job-9", final.ExtractJobID)
		assert.Equal(t, []byte("# original"), b.objects[final.MarkdownOutput.Key])
		assert.Equal(t, []byte("zip"), b.objects[final.ArchiveOutput.Key])
		assert.Equal(t, []byte("# traduit"), b.objects[final.TranslatedMarkdown.Key])
		assert.Equal(t, final.TranslatedMarkdown, final.Output)
		assert.Equal(t, 1, extractor.calls)
		assert.Equal(t, 1, translator.calls)
	})

	t.Run("extraction band stays within 5-50 and translation within 55-90", func(t *testing.T) {
		t.Parallel()
		task := newRunTask(t, domain.WorkflowExtractThenTranslate)
		b := newFakeBlob()
		b.objects[task.InputKey] = []byte("%PDF-1.7")
		rec := &recorder{}
		extractor := &fakeProvider{
			progress: []provider.Progress{{Stage: "extracting", Overall: 100}},
			result:   &provider.Result{Content: "# original"},
		}
		translator := &fakeProvider{
			progress: []provider.Progress{{Stage: "translating", Overall: 100}},
			result:   &provider.Result{Content: "# traduit"},
		}
		exec := NewExecutor(b, provider.Registry{Translator: translator, Extractor: extractor}, &fakeResolver{}, rec.update)

		require.NoError(t, exec.Run(context.Background(), task))

		values := rec.progressValues()
		assert.Contains(t, values, 50)
		assert.Contains(t, values, 90)
		assert.Equal(t, 100, values[len(values)-1])
	})

	t.Run("translation failure keeps the task failed with originals stored", func(t *testing.T) {
		t.Parallel()
		task := newRunTask(t, domain.WorkflowExtractThenTranslate)
		b := newFakeBlob()
		b.objects[task.InputKey] = []byte("%PDF-1.7")
		rec := &recorder{}
		extractor := &fakeProvider{result: &provider.Result{Content: "# original"}}
		translator := &fakeProvider{err: errors.New("translation engine offline")}
		exec := NewExecutor(b, provider.Registry{Translator: translator, Extractor: extractor}, &fakeResolver{}, rec.update)

		err := exec.Run(context.Background(), task)
		require.Error(t, err)

		final := rec.last(t)
		assert.Equal(t, domain.StatusFailed, final.Status)
		assert.Contains(t, final.Error, "translation engine offline")
		assert.NotEmpty(t, final.MarkdownOutput.Key)
	})
}
