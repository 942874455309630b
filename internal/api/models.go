package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/notify"
	"github.com/pagelift/pagelift-api/internal/store"
	"github.com/pagelift/pagelift-api/internal/task"
)

// maxUploadBytes bounds the multipart create request body.
const maxUploadBytes = 64 << 20

// TaskResponse is the wire form of one task; the same snapshot carried by
// push events.
type TaskResponse = notify.TaskSnapshot

// TaskListResponse wraps a listing.
type TaskListResponse struct {
	Tasks []*TaskResponse `json:"tasks"`
	Count int             `json:"count"`
}

func taskToResponse(t *domain.Task) *TaskResponse {
	return notify.Snapshot(t)
}

func tasksToResponse(tasks []*domain.Task) TaskListResponse {
	out := make([]*TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	return TaskListResponse{Tasks: out, Count: len(out)}
}

// parseCreateRequest reads the multipart create form. The file part is
// required; classification fields default to a normal-priority translate
// task.
func parseCreateRequest(r *http.Request, identity Identity) (task.CreateRequest, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return task.CreateRequest{}, fmt.Errorf("%w: malformed multipart form", domain.ErrValidation)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return task.CreateRequest{}, fmt.Errorf("%w: file part is required", domain.ErrValidation)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return task.CreateRequest{}, fmt.Errorf("reading upload: %w", err)
	}

	req := task.CreateRequest{
		OwnerID:          identity.UserID,
		OwnerEmail:       identity.Email,
		DocumentName:     header.Filename,
		Workflow:         domain.WorkflowTranslate,
		Priority:         domain.PriorityNormal,
		SourceLang:       r.FormValue("source_lang"),
		TargetLang:       r.FormValue("target_lang"),
		Engine:           r.FormValue("engine"),
		Notes:            r.FormValue("notes"),
		ProviderConfigID: r.FormValue("provider_config_id"),
		File:             data,
		ContentType:      header.Header.Get("Content-Type"),
	}
	if v := r.FormValue("task_type"); v != "" {
		req.Workflow = domain.Workflow(v)
	}
	if v := r.FormValue("priority"); v != "" {
		req.Priority = domain.Priority(v)
	}
	if v := r.FormValue("page_count"); v != "" {
		pages, err := strconv.Atoi(v)
		if err != nil || pages < 0 {
			return task.CreateRequest{}, fmt.Errorf("%w: page_count must be a non-negative integer", domain.ErrValidation)
		}
		req.PageCount = pages
	}
	if v := r.FormValue("overrides"); v != "" {
		if !json.Valid([]byte(v)) {
			return task.CreateRequest{}, domain.ErrTaskInvalidOverrides
		}
		req.Overrides = json.RawMessage(v)
	}
	return req, nil
}

// parseListQuery reads listing filters and pagination from query params.
func parseListQuery(r *http.Request) (store.TaskFilters, int, int, error) {
	q := r.URL.Query()
	filters := store.TaskFilters{
		Status:   domain.Status(q.Get("status")),
		Engine:   q.Get("engine"),
		Priority: domain.Priority(q.Get("priority")),
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return store.TaskFilters{}, 0, 0, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, filters.Status)
	}

	for param, dst := range map[string]*time.Time{"created_from": &filters.CreatedFrom, "created_to": &filters.CreatedTo} {
		if v := q.Get(param); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return store.TaskFilters{}, 0, 0, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, param)
			}
			*dst = ts
		}
	}

	limit, err := positiveIntParam(q.Get("limit"), 50)
	if err != nil {
		return store.TaskFilters{}, 0, 0, fmt.Errorf("%w: invalid limit", domain.ErrValidation)
	}
	offset, err := positiveIntParam(q.Get("offset"), 0)
	if err != nil {
		return store.TaskFilters{}, 0, 0, fmt.Errorf("%w: invalid offset", domain.ErrValidation)
	}
	return filters, limit, offset, nil
}

func positiveIntParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("not a non-negative integer: %q", raw)
	}
	return n, nil
}
