package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/platform/logger"
	"github.com/pagelift/pagelift-api/internal/quota"
	"github.com/pagelift/pagelift-api/internal/store"
	"github.com/pagelift/pagelift-api/internal/task"
)

// Lifecycle is the slice of the task manager the handlers drive.
type Lifecycle interface {
	Create(ctx context.Context, req task.CreateRequest) (*domain.Task, error)
	Get(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, ownerID string, filters store.TaskFilters, limit, offset int) ([]*domain.Task, error)
	Retry(ctx context.Context, id string) (*domain.Task, error)
	Cancel(ctx context.Context, id string) (*domain.Task, error)
	Delete(ctx context.Context, id, ownerID string) error
	QueueStatus(ctx context.Context) (*task.QueueStatus, error)
}

// TaskHandler serves the task lifecycle endpoints.
type TaskHandler struct {
	lifecycle Lifecycle
	quota     quota.Manager
	identity  IdentityResolver
	logger    *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(lifecycle Lifecycle, quotaManager quota.Manager, identity IdentityResolver, log *slog.Logger) *TaskHandler {
	if log == nil {
		log = slog.Default()
	}
	if identity == nil {
		identity = HeaderIdentityResolver{}
	}
	return &TaskHandler{
		lifecycle: lifecycle,
		quota:     quotaManager,
		identity:  identity,
		logger:    log.With(slog.String("component", "task_handler")),
	}
}

// CreateTask handles POST /api/tasks. Quota is charged before the task is
// created and refunded when creation fails for any reason, so a rejected
// upload never consumes budget.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	identity, err := h.identity.Resolve(r)
	if err != nil {
		RespondWithError(w, r, http.StatusUnauthorized, GetSafeErrorMessage(err))
		return
	}

	req, err := parseCreateRequest(r, identity)
	if err != nil {
		RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if err := h.quota.Charge(r.Context(), identity.UserID, req.PageCount); err != nil {
		RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	created, err := h.lifecycle.Create(r.Context(), req)
	if err != nil {
		if refundErr := h.quota.Refund(r.Context(), identity.UserID, req.PageCount); refundErr != nil {
			log.Error("quota refund after failed create", "owner_id", identity.UserID, "error", refundErr)
		}
		RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	RespondWithJSON(w, r, http.StatusCreated, taskToResponse(created))
}

// ListTasks handles GET /api/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	identity, err := h.identity.Resolve(r)
	if err != nil {
		RespondWithError(w, r, http.StatusUnauthorized, GetSafeErrorMessage(err))
		return
	}

	filters, limit, offset, err := parseListQuery(r)
	if err != nil {
		RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	tasks, err := h.lifecycle.List(r.Context(), identity.UserID, filters, limit, offset)
	if err != nil {
		RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, tasksToResponse(tasks))
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	found, _, ok := h.ownedTask(w, r)
	if !ok {
		return
	}
	RespondWithJSON(w, r, http.StatusOK, taskToResponse(found))
}

// RetryTask handles POST /api/tasks/{id}/retry.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	found, _, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	retried, err := h.lifecycle.Retry(r.Context(), found.ID)
	if err != nil {
		RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, taskToResponse(retried))
}

// CancelTask handles POST /api/tasks/{id}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	found, _, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	canceled, err := h.lifecycle.Cancel(r.Context(), found.ID)
	if err != nil {
		RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, taskToResponse(canceled))
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	identity, err := h.identity.Resolve(r)
	if err != nil {
		RespondWithError(w, r, http.StatusUnauthorized, GetSafeErrorMessage(err))
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.lifecycle.Delete(r.Context(), id, identity.UserID); err != nil {
		RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueueStatus handles GET /api/tasks/queue/status.
func (h *TaskHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := h.identity.Resolve(r); err != nil {
		RespondWithError(w, r, http.StatusUnauthorized, GetSafeErrorMessage(err))
		return
	}

	status, err := h.lifecycle.QueueStatus(r.Context())
	if err != nil {
		RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, status)
}

// ownedTask resolves the request identity and loads the addressed task,
// answering 404 for rows owned by someone else so foreign ids are
// indistinguishable from missing ones.
func (h *TaskHandler) ownedTask(w http.ResponseWriter, r *http.Request) (*domain.Task, Identity, bool) {
	identity, err := h.identity.Resolve(r)
	if err != nil {
		RespondWithError(w, r, http.StatusUnauthorized, GetSafeErrorMessage(err))
		return nil, Identity{}, false
	}

	id := chi.URLParam(r, "id")
	found, err := h.lifecycle.Get(r.Context(), id)
	if err != nil {
		RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return nil, identity, false
	}
	if found.OwnerID != identity.UserID {
		RespondWithError(w, r, http.StatusNotFound, GetSafeErrorMessage(store.ErrTaskNotFound))
		return nil, identity, false
	}
	return found, identity, true
}
