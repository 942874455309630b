package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/platform/blob"
	"github.com/pagelift/pagelift-api/internal/platform/logger"
	"github.com/pagelift/pagelift-api/internal/provider"
)

// defaultURLTTL bounds the lifetime of retrieval URLs minted for outputs
// and for handing inputs to extraction vendors.
const defaultURLTTL = time.Hour

// ErrNoOutput marks a workflow that reported success without producing a
// primary output.
var ErrNoOutput = errors.New("completed but no output produced")

// Blob is the slice of the blob gateway the executor needs.
type Blob interface {
	Put(ctx context.Context, data []byte, key, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// SettingsResolver resolves the effective provider settings for a task.
type SettingsResolver interface {
	Resolve(ctx context.Context, task *domain.Task, providerType string) (provider.Settings, error)
}

// UpdateFunc persists a task mutation. The owner of the callback is
// responsible for cache invalidation and notification fanout; the executor
// only decides when state changed.
type UpdateFunc func(ctx context.Context, task *domain.Task) error

// Executor runs workflows. It is safe for concurrent use; each Run call
// operates on its own task.
type Executor struct {
	blob      Blob
	providers provider.Registry
	resolver  SettingsResolver
	update    UpdateFunc
	urlTTL    time.Duration
}

// NewExecutor creates an Executor.
func NewExecutor(b Blob, providers provider.Registry, resolver SettingsResolver, update UpdateFunc) *Executor {
	return &Executor{
		blob:      b,
		providers: providers,
		resolver:  resolver,
		update:    update,
		urlTTL:    defaultURLTTL,
	}
}

// Run executes the task's workflow to a terminal state. Provider and
// configuration errors mark the task failed; a canceled ctx aborts without
// writing a terminal state, leaving the caller to record the cancellation.
// The returned error reports what ended the run and is already reflected
// on the task row, except for cancellation.
func (e *Executor) Run(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	task.Status = domain.StatusProcessing
	task.Error = ""
	if err := e.update(ctx, task); err != nil {
		return fmt.Errorf("marking task %s processing: %w", task.ID, err)
	}

	var err error
	switch task.Workflow {
	case domain.WorkflowTranslate:
		err = e.runTranslate(ctx, task)
	case domain.WorkflowExtract:
		err = e.runExtract(ctx, task)
	case domain.WorkflowExtractThenTranslate:
		err = e.runExtractThenTranslate(ctx, task)
	default:
		err = fmt.Errorf("unknown workflow %q", task.Workflow)
	}
	if err == nil {
		return nil
	}

	if canceled(ctx, err) {
		log.Info("task run canceled", "task_id", task.ID, "workflow", task.Workflow)
		return err
	}

	log.Error("task run failed", "task_id", task.ID, "workflow", task.Workflow, "error", err)
	task.Status = domain.StatusFailed
	task.Error = err.Error()
	task.Progress = 0
	task.ProgressMessage = ""
	if updateErr := e.update(ctx, task); updateErr != nil {
		log.Error("recording task failure", "task_id", task.ID, "error", updateErr)
	}
	return err
}

// runTranslate: download 0-15, resolve 15-25, provider 25-80, upload 80-90,
// completed 100.
func (e *Executor) runTranslate(ctx context.Context, task *domain.Task) error {
	w := newProgressWriter(e, task)

	w.set(ctx, 5, "Starting translation")
	document, err := e.blob.Get(ctx, task.InputKey)
	if err != nil {
		return fmt.Errorf("downloading input: %w", err)
	}
	w.set(ctx, 15, "Document downloaded")

	settings, err := e.resolver.Resolve(ctx, task, "translate")
	if err != nil {
		return err
	}
	w.set(ctx, 25, "Configuration resolved")

	result, err := e.providers.Translator.Execute(ctx, provider.Request{
		Document:   document,
		SourceLang: task.SourceLang,
		TargetLang: task.TargetLang,
		Settings:   settings,
	}, w.mapped(ctx, 25, 80))
	if err != nil {
		return err
	}

	w.set(ctx, 80, "Uploading results")
	if err := e.storeVariants(ctx, task, result.Outputs); err != nil {
		return err
	}
	w.set(ctx, 90, "Results uploaded")

	switch {
	case !task.DualOutput.Empty():
		task.Output = task.DualOutput
	case !task.MonoOutput.Empty():
		task.Output = task.MonoOutput
	default:
		return ErrNoOutput
	}
	return e.complete(ctx, task)
}

// runExtract: presigned handoff, provider mapped into 10-90, persist 90,
// completed 100.
func (e *Executor) runExtract(ctx context.Context, task *domain.Task) error {
	w := newProgressWriter(e, task)

	w.set(ctx, 10, "Submitting document for extraction")
	inputURL, err := e.blob.PresignedGet(ctx, task.InputKey, e.urlTTL)
	if err != nil {
		return fmt.Errorf("preparing input URL: %w", err)
	}
	settings, err := e.resolver.Resolve(ctx, task, "extract")
	if err != nil {
		return err
	}

	result, err := e.providers.Extractor.Execute(ctx, provider.Request{
		DocumentURL: inputURL,
		Settings:    settings,
	}, w.mapped(ctx, 10, 90))
	if err != nil {
		return err
	}
	if result.Content == "" {
		return ErrNoOutput
	}

	w.set(ctx, 90, "Uploading extracted content")
	task.ExtractJobID = result.JobID
	markdown, err := e.storeArtifact(ctx, task, "extracted.md", []byte(result.Content), "text/markdown")
	if err != nil {
		return err
	}
	task.MarkdownOutput = markdown
	if len(result.Archive) > 0 {
		archive, err := e.storeArtifact(ctx, task, "extracted.zip", result.Archive, "application/zip")
		if err != nil {
			return err
		}
		task.ArchiveOutput = archive
	}
	task.Output = task.MarkdownOutput
	return e.complete(ctx, task)
}

// runExtractThenTranslate: extraction mapped into 5-50, originals persisted
// at 50, translation mapped into 55-90, translated markdown at 90.
func (e *Executor) runExtractThenTranslate(ctx context.Context, task *domain.Task) error {
	w := newProgressWriter(e, task)

	w.set(ctx, 5, "Step 1/2: extracting document")
	inputURL, err := e.blob.PresignedGet(ctx, task.InputKey, e.urlTTL)
	if err != nil {
		return fmt.Errorf("preparing input URL: %w", err)
	}
	extractSettings, err := e.resolver.Resolve(ctx, task, "extract")
	if err != nil {
		return err
	}

	extracted, err := e.providers.Extractor.Execute(ctx, provider.Request{
		DocumentURL: inputURL,
		Settings:    extractSettings,
	}, w.mapped(ctx, 5, 50))
	if err != nil {
		return err
	}
	if extracted.Content == "" {
		return ErrNoOutput
	}

	task.ExtractJobID = extracted.JobID
	original, err := e.storeArtifact(ctx, task, "original.md", []byte(extracted.Content), "text/markdown")
	if err != nil {
		return err
	}
	task.MarkdownOutput = original
	if len(extracted.Archive) > 0 {
		archive, err := e.storeArtifact(ctx, task, "original.zip", extracted.Archive, "application/zip")
		if err != nil {
			return err
		}
		task.ArchiveOutput = archive
	}
	w.set(ctx, 50, "Extraction complete")

	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.set(ctx, 55, "Step 2/2: translating content")
	translateSettings, err := e.resolver.Resolve(ctx, task, "translate")
	if err != nil {
		return err
	}
	translated, err := e.providers.Translator.Execute(ctx, provider.Request{
		Content:    extracted.Content,
		SourceLang: task.SourceLang,
		TargetLang: task.TargetLang,
		Settings:   translateSettings,
	}, w.mapped(ctx, 55, 90))
	if err != nil {
		return err
	}
	if translated.Content == "" {
		return ErrNoOutput
	}

	result, err := e.storeArtifact(ctx, task, "translated.md", []byte(translated.Content), "text/markdown")
	if err != nil {
		return err
	}
	task.TranslatedMarkdown = result
	task.Output = result
	w.set(ctx, 90, "Translated content uploaded")
	return e.complete(ctx, task)
}

// variantFiles maps translation output variants to their stored names.
var variantFiles = map[string]struct {
	filename    string
	contentType string
}{
	"mono":     {"mono.pdf", "application/pdf"},
	"dual":     {"dual.pdf", "application/pdf"},
	"glossary": {"glossary.csv", "text/csv"},
}

func (e *Executor) storeVariants(ctx context.Context, task *domain.Task, outputs map[string][]byte) error {
	for variant, data := range outputs {
		spec, ok := variantFiles[variant]
		if !ok || len(data) == 0 {
			continue
		}
		artifact, err := e.storeArtifact(ctx, task, spec.filename, data, spec.contentType)
		if err != nil {
			return err
		}
		switch variant {
		case "mono":
			task.MonoOutput = artifact
		case "dual":
			task.DualOutput = artifact
		case "glossary":
			task.GlossaryOutput = artifact
		}
	}
	return nil
}

func (e *Executor) storeArtifact(ctx context.Context, task *domain.Task, name string, data []byte, contentType string) (domain.Artifact, error) {
	key := blob.OutputKey(task.OwnerID, task.ID, name)
	if err := e.blob.Put(ctx, data, key, contentType); err != nil {
		return domain.Artifact{}, fmt.Errorf("uploading %s: %w", name, err)
	}
	url, err := e.blob.PresignedGet(ctx, key, e.urlTTL)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("signing %s URL: %w", name, err)
	}
	return domain.Artifact{Key: key, URL: url}, nil
}

func (e *Executor) complete(ctx context.Context, task *domain.Task) error {
	task.Status = domain.StatusCompleted
	task.Progress = 100
	task.ProgressMessage = "Completed"
	if err := e.update(ctx, task); err != nil {
		return fmt.Errorf("recording task completion: %w", err)
	}
	return nil
}

func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
