package store

import (
	"context"
	"time"

	"github.com/pagelift/pagelift-api/internal/domain"
)

// TaskFilters narrows a task listing. Zero values mean "no constraint".
type TaskFilters struct {
	Status      domain.Status
	Engine      string
	Priority    domain.Priority
	CreatedFrom time.Time
	CreatedTo   time.Time
}

// Empty reports whether no filter is set. Only unfiltered listings are
// served from and written back to the per-owner cache.
func (f TaskFilters) Empty() bool {
	return f.Status == "" && f.Engine == "" && f.Priority == "" &&
		f.CreatedFrom.IsZero() && f.CreatedTo.IsZero()
}

// TaskStore defines the interface for persisting tasks. The task row is the
// single source of truth for status, progress, and outputs; everything else
// (queues, caches, in-flight handles) is a reconstructible projection.
type TaskStore interface {
	// Create inserts a new task row. Returns ErrInvalidEntity (wrapping the
	// validation error) if the task fails validation, or ErrDuplicate if the
	// id already exists.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id string) (*domain.Task, error)

	// ListByOwner returns the owner's tasks matching the filters, ordered by
	// creation time descending, applying limit and offset.
	ListByOwner(ctx context.Context, ownerID string, filters TaskFilters, limit, offset int) ([]*domain.Task, error)

	// GetByStatus returns every task currently in the given status, oldest
	// first. Used by crash recovery to find orphaned processing rows.
	GetByStatus(ctx context.Context, status domain.Status) ([]*domain.Task, error)

	// Update persists the task's current state in a single-row update.
	// It enforces the terminal-success rules: when status is completed,
	// progress is forced to 100 and completed_at is set exactly once.
	// Returns ErrTaskNotFound if the row no longer exists.
	Update(ctx context.Context, task *domain.Task) error

	// Delete removes the task row if and only if it belongs to ownerID.
	// Returns ErrTaskNotFound when the row does not exist or is owned by
	// someone else; the two cases are deliberately indistinguishable.
	Delete(ctx context.Context, id, ownerID string) error
}

// ProviderConfigStore defines the interface for reading stored provider
// configurations. Admin CRUD over these rows is external plumbing; the
// pipeline only ever resolves them.
type ProviderConfigStore interface {
	// GetByID retrieves a provider configuration by ID.
	// Returns ErrProviderConfigNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*domain.ProviderConfig, error)

	// GetActiveByType returns active configurations of the given provider
	// type, default configurations first, then oldest first.
	GetActiveByType(ctx context.Context, providerType string) ([]*domain.ProviderConfig, error)
}
