package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/pagelift/pagelift-api/internal/domain"
)

// EventTypeTaskUpdate is the only event type currently pushed to clients.
const EventTypeTaskUpdate = "task.update"

// Event is one task-state delta pushed to an owner's connected clients.
// Delivery is fire-and-forget: an event may arrive before the read path
// reflects the change, and callers needing strong consistency must re-read
// rather than trust the push payload alone.
type Event struct {
	// ID is a unique identifier for this event.
	ID uuid.UUID `json:"id"`

	// Type indicates the kind of event.
	Type string `json:"type"`

	// Task is the snapshot of the task after the mutation.
	Task *TaskSnapshot `json:"task"`

	// CreatedAt is the timestamp when the event was created.
	CreatedAt time.Time `json:"createdAt"`
}

// TaskSnapshot is the camelCase wire representation of a task carried in
// push events and API responses.
type TaskSnapshot struct {
	ID                    string  `json:"id"`
	OwnerID               string  `json:"ownerId"`
	OwnerEmail            string  `json:"ownerEmail"`
	DocumentName          string  `json:"documentName"`
	Workflow              string  `json:"taskType"`
	SourceLang            string  `json:"sourceLang"`
	TargetLang            string  `json:"targetLang"`
	Engine                string  `json:"engine"`
	Priority              string  `json:"priority"`
	Notes                 string  `json:"notes,omitempty"`
	Status                string  `json:"status"`
	Progress              int     `json:"progress"`
	ProgressMessage       string  `json:"progressMessage,omitempty"`
	Error                 string  `json:"error,omitempty"`
	OutputURL             string  `json:"outputUrl,omitempty"`
	MonoOutputURL         string  `json:"monoOutputUrl,omitempty"`
	DualOutputURL         string  `json:"dualOutputUrl,omitempty"`
	GlossaryOutputURL     string  `json:"glossaryOutputUrl,omitempty"`
	ArchiveOutputURL      string  `json:"archiveOutputUrl,omitempty"`
	MarkdownOutputURL     string  `json:"markdownOutputUrl,omitempty"`
	TranslatedMarkdownURL string  `json:"translatedMarkdownUrl,omitempty"`
	ProviderConfigID      string  `json:"providerConfigId,omitempty"`
	ExtractJobID          string  `json:"extractJobId,omitempty"`
	PageCount             int     `json:"pageCount"`
	CreatedAt             string  `json:"createdAt"`
	UpdatedAt             string  `json:"updatedAt"`
	CompletedAt           *string `json:"completedAt,omitempty"`
}

// Snapshot converts a task into its wire representation.
func Snapshot(task *domain.Task) *TaskSnapshot {
	s := &TaskSnapshot{
		ID:                    task.ID,
		OwnerID:               task.OwnerID,
		OwnerEmail:            task.OwnerEmail,
		DocumentName:          task.DocumentName,
		Workflow:              string(task.Workflow),
		SourceLang:            task.SourceLang,
		TargetLang:            task.TargetLang,
		Engine:                task.Engine,
		Priority:              string(task.Priority),
		Notes:                 task.Notes,
		Status:                string(task.Status),
		Progress:              task.Progress,
		ProgressMessage:       task.ProgressMessage,
		Error:                 task.Error,
		OutputURL:             task.Output.URL,
		MonoOutputURL:         task.MonoOutput.URL,
		DualOutputURL:         task.DualOutput.URL,
		GlossaryOutputURL:     task.GlossaryOutput.URL,
		ArchiveOutputURL:      task.ArchiveOutput.URL,
		MarkdownOutputURL:     task.MarkdownOutput.URL,
		TranslatedMarkdownURL: task.TranslatedMarkdown.URL,
		ProviderConfigID:      task.ProviderConfigID,
		ExtractJobID:          task.ExtractJobID,
		PageCount:             task.PageCount,
		CreatedAt:             task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             task.UpdatedAt.Format(time.RFC3339),
	}
	if task.CompletedAt != nil {
		completed := task.CompletedAt.Format(time.RFC3339)
		s.CompletedAt = &completed
	}
	return s
}

// NewTaskUpdateEvent creates a task.update event for the given task state.
func NewTaskUpdateEvent(task *domain.Task) *Event {
	return &Event{
		ID:        uuid.New(),
		Type:      EventTypeTaskUpdate,
		Task:      Snapshot(task),
		CreatedAt: time.Now().UTC(),
	}
}
