package domain

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Task-specific validation errors
var (
	// ErrTaskIDEmpty is returned when a task ID is empty.
	ErrTaskIDEmpty = fmt.Errorf("%w: task ID cannot be empty", ErrValidation)

	// ErrTaskOwnerEmpty is returned when a task's owner ID is empty.
	ErrTaskOwnerEmpty = fmt.Errorf("%w: task owner ID cannot be empty", ErrValidation)

	// ErrTaskDocumentNameEmpty is returned when a task has no document name.
	ErrTaskDocumentNameEmpty = fmt.Errorf("%w: task document name cannot be empty", ErrValidation)

	// ErrTaskInvalidPriority is returned when a task's priority is not one of
	// high, normal, or low.
	ErrTaskInvalidPriority = fmt.Errorf("%w: invalid task priority", ErrValidation)

	// ErrTaskInvalidWorkflow is returned when a task's workflow is not recognized.
	ErrTaskInvalidWorkflow = fmt.Errorf("%w: invalid task workflow", ErrValidation)

	// ErrTaskInvalidStatus is returned when a task's status is not recognized.
	ErrTaskInvalidStatus = fmt.Errorf("%w: invalid task status", ErrValidation)

	// ErrTaskInvalidProgress is returned when progress is outside 0-100.
	ErrTaskInvalidProgress = fmt.Errorf("%w: task progress must be between 0 and 100", ErrValidation)

	// ErrTaskInvalidOverrides is returned when per-task overrides are not valid JSON.
	ErrTaskInvalidOverrides = fmt.Errorf("%w: task overrides must be valid JSON", ErrValidation)
)

// Status represents the lifecycle state of a task.
type Status string

// Possible task status values. Completed, failed, and canceled are terminal;
// only an explicit retry or crash recovery moves a task out of them, and in
// both cases the destination is queued.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Valid reports whether the status is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Priority determines dispatch order, not execution speed once running.
type Priority string

// Dispatch order is strictly high, then normal, then low. There is no
// fairness or aging across tiers; sustained high-priority load starves
// lower tiers and that is accepted behavior.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// PrioritiesInOrder lists the priorities in dispatch order.
var PrioritiesInOrder = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether the priority is one of the known tiers.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Workflow selects which processing pipeline a task runs through.
type Workflow string

const (
	// WorkflowTranslate translates the uploaded document directly.
	WorkflowTranslate Workflow = "translate"

	// WorkflowExtract extracts the document's layout to markdown.
	WorkflowExtract Workflow = "extract"

	// WorkflowExtractThenTranslate extracts to markdown, then translates
	// the extracted content.
	WorkflowExtractThenTranslate Workflow = "extract_then_translate"
)

// Valid reports whether the workflow is one of the known variants.
func (w Workflow) Valid() bool {
	switch w {
	case WorkflowTranslate, WorkflowExtract, WorkflowExtractThenTranslate:
		return true
	}
	return false
}

// Artifact is one stored output: an opaque storage key plus a short-lived
// retrieval URL. A zero Artifact means the variant was not produced.
type Artifact struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Empty reports whether the artifact was produced.
func (a Artifact) Empty() bool {
	return a.Key == ""
}

// Task is one unit of submitted work tracked through the lifecycle state
// machine. The database row for a task is the single source of truth for
// its status, progress, and outputs; caches and in-memory handles are
// disposable projections.
type Task struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	OwnerEmail string `json:"owner_email"`

	DocumentName string   `json:"document_name"`
	Workflow     Workflow `json:"workflow"`
	SourceLang   string   `json:"source_lang"`
	TargetLang   string   `json:"target_lang"`
	Engine       string   `json:"engine"`
	Priority     Priority `json:"priority"`
	Notes        string   `json:"notes,omitempty"`

	Status          Status `json:"status"`
	Progress        int    `json:"progress"`
	ProgressMessage string `json:"progress_message,omitempty"`
	Error           string `json:"error,omitempty"`

	InputKey string `json:"input_key,omitempty"`

	// Output is the primary result artifact. The remaining fields are
	// workflow-specific variants; translate produces mono/dual/glossary,
	// extract produces markdown/archive, extract_then_translate produces
	// markdown plus translated markdown.
	Output             Artifact `json:"output"`
	MonoOutput         Artifact `json:"mono_output"`
	DualOutput         Artifact `json:"dual_output"`
	GlossaryOutput     Artifact `json:"glossary_output"`
	ArchiveOutput      Artifact `json:"archive_output"`
	MarkdownOutput     Artifact `json:"markdown_output"`
	TranslatedMarkdown Artifact `json:"translated_markdown"`

	// ProviderConfigID optionally binds the task to a stored provider
	// configuration. Overrides carries free-form per-task configuration
	// merged over the provider's settings at execution time.
	ProviderConfigID string          `json:"provider_config_id,omitempty"`
	Overrides        json.RawMessage `json:"overrides,omitempty"`

	// ExtractJobID is the extraction vendor's job identifier, recorded so
	// its mirrored artifacts can be cleaned up on delete.
	ExtractJobID string `json:"extract_job_id,omitempty"`

	// PageCount is the consumed-resource count charged against the owner's
	// quota by the caller of Create. The lifecycle manager only records it.
	PageCount int `json:"page_count"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// taskIDBytes yields 8 base64url characters, matching the short id shape
// exposed to users.
const taskIDBytes = 6

// NewTaskID generates a short, url-safe, unique task identifier.
func NewTaskID() string {
	buf := make([]byte, taskIDBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// NewTask creates a queued Task for the given owner with a fresh ID and
// creation timestamps. Returns an error if validation fails.
func NewTask(ownerID, ownerEmail, documentName string, workflow Workflow, priority Priority) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:           NewTaskID(),
		OwnerID:      ownerID,
		OwnerEmail:   ownerEmail,
		DocumentName: documentName,
		Workflow:     workflow,
		Priority:     priority,
		Status:       StatusQueued,
		Progress:     0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks that the Task holds consistent data.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrTaskIDEmpty
	}

	if t.OwnerID == "" {
		return ErrTaskOwnerEmpty
	}

	if t.DocumentName == "" {
		return ErrTaskDocumentNameEmpty
	}

	if !t.Priority.Valid() {
		return ErrTaskInvalidPriority
	}

	if !t.Workflow.Valid() {
		return ErrTaskInvalidWorkflow
	}

	if !t.Status.Valid() {
		return ErrTaskInvalidStatus
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrTaskInvalidProgress
	}

	if len(t.Overrides) > 0 {
		var js json.RawMessage
		if err := json.Unmarshal(t.Overrides, &js); err != nil {
			return ErrTaskInvalidOverrides
		}
	}

	return nil
}

// OutputKeys returns every known artifact storage key, input included,
// without duplicates. Used by delete for best-effort storage cleanup.
func (t *Task) OutputKeys() []string {
	candidates := []string{
		t.InputKey,
		t.Output.Key,
		t.MonoOutput.Key,
		t.DualOutput.Key,
		t.GlossaryOutput.Key,
		t.ArchiveOutput.Key,
		t.MarkdownOutput.Key,
		t.TranslatedMarkdown.Key,
	}

	seen := make(map[string]struct{}, len(candidates))
	keys := make([]string, 0, len(candidates))
	for _, k := range candidates {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// ClearOutputs removes every output artifact reference, the error text, and
// the extraction job binding. Called on retry before re-execution begins.
func (t *Task) ClearOutputs() {
	t.Output = Artifact{}
	t.MonoOutput = Artifact{}
	t.DualOutput = Artifact{}
	t.GlossaryOutput = Artifact{}
	t.ArchiveOutput = Artifact{}
	t.MarkdownOutput = Artifact{}
	t.TranslatedMarkdown = Artifact{}
	t.Error = ""
	t.ExtractJobID = ""
	t.CompletedAt = nil
}
