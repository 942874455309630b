package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/platform/logger"
	"github.com/pagelift/pagelift-api/internal/store"
)

// uniqueViolationCode is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolationCode = "23505"

// taskColumns is the canonical select list; scanTask depends on this order.
const taskColumns = `id, owner_id, owner_email, document_name, workflow,
	source_lang, target_lang, engine, priority, notes,
	status, progress, progress_message, error,
	input_key,
	output_key, output_url,
	mono_output_key, mono_output_url,
	dual_output_key, dual_output_url,
	glossary_output_key, glossary_output_url,
	archive_output_key, archive_output_url,
	markdown_output_key, markdown_output_url,
	translated_markdown_key, translated_markdown_url,
	provider_config_id, overrides, extract_job_id, page_count,
	created_at, updated_at, completed_at`

// TaskStore implements the store.TaskStore interface using PostgreSQL.
type TaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{db: db}
}

// Create inserts a new task row.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36)
	`

	_, err := s.db.ExecContext(ctx, query, taskArgs(task)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("%w: task %s", store.ErrDuplicate, task.ID)
		}
		log.Error("failed to create task",
			"task_id", task.ID,
			"error", err)
		return store.NewStoreError("task", "create", "failed to insert task", err)
	}

	return nil
}

// GetByID retrieves a task by its unique ID.
func (s *TaskStore) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	row := s.db.QueryRowContext(ctx, query, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, store.NewStoreError("task", "get", "failed to scan task", err)
	}
	return task, nil
}

// ListByOwner returns the owner's tasks matching the filters, newest first.
func (s *TaskStore) ListByOwner(
	ctx context.Context,
	ownerID string,
	filters store.TaskFilters,
	limit, offset int,
) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = $1`)
	args := []any{ownerID}

	appendFilter := func(clause string, value any) {
		args = append(args, value)
		fmt.Fprintf(&sb, " AND %s $%d", clause, len(args))
	}

	if filters.Status != "" {
		appendFilter("status =", string(filters.Status))
	}
	if filters.Engine != "" {
		appendFilter("engine =", filters.Engine)
	}
	if filters.Priority != "" {
		appendFilter("priority =", string(filters.Priority))
	}
	if !filters.CreatedFrom.IsZero() {
		appendFilter("created_at >=", filters.CreatedFrom)
	}
	if !filters.CreatedTo.IsZero() {
		appendFilter("created_at <=", filters.CreatedTo)
	}

	args = append(args, limit, offset)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, store.NewStoreError("task", "list", "failed to query tasks", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows)
}

// GetByStatus returns every task currently in the given status, oldest first.
func (s *TaskStore) GetByStatus(ctx context.Context, status domain.Status) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = $1 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, store.NewStoreError("task", "get_by_status", "failed to query tasks", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows)
}

// Update persists the task's current state in a single-row update,
// enforcing the terminal-success invariants: completed implies progress 100,
// and completed_at is stamped exactly once.
func (s *TaskStore) Update(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if task.Status == domain.StatusCompleted {
		task.Progress = 100
		if task.CompletedAt == nil {
			now := time.Now().UTC()
			task.CompletedAt = &now
		}
	}
	task.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE tasks SET
			status = $2, progress = $3, progress_message = $4, error = $5,
			output_key = $6, output_url = $7,
			mono_output_key = $8, mono_output_url = $9,
			dual_output_key = $10, dual_output_url = $11,
			glossary_output_key = $12, glossary_output_url = $13,
			archive_output_key = $14, archive_output_url = $15,
			markdown_output_key = $16, markdown_output_url = $17,
			translated_markdown_key = $18, translated_markdown_url = $19,
			extract_job_id = $20, updated_at = $21, completed_at = $22
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query,
		task.ID,
		string(task.Status),
		task.Progress,
		nullString(task.ProgressMessage),
		nullString(task.Error),
		nullString(task.Output.Key), nullString(task.Output.URL),
		nullString(task.MonoOutput.Key), nullString(task.MonoOutput.URL),
		nullString(task.DualOutput.Key), nullString(task.DualOutput.URL),
		nullString(task.GlossaryOutput.Key), nullString(task.GlossaryOutput.URL),
		nullString(task.ArchiveOutput.Key), nullString(task.ArchiveOutput.URL),
		nullString(task.MarkdownOutput.Key), nullString(task.MarkdownOutput.URL),
		nullString(task.TranslatedMarkdown.Key), nullString(task.TranslatedMarkdown.URL),
		nullString(task.ExtractJobID),
		task.UpdatedAt,
		nullTime(task.CompletedAt),
	)
	if err != nil {
		log.Error("failed to update task",
			"task_id", task.ID,
			"status", task.Status,
			"error", err)
		return store.NewStoreError("task", "update", "failed to update task", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("task", "update", "failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return store.ErrTaskNotFound
	}

	return nil
}

// Delete removes the task row when it belongs to ownerID. A row owned by
// someone else is reported as not found, never as forbidden.
func (s *TaskStore) Delete(ctx context.Context, id, ownerID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return store.NewStoreError("task", "delete", "failed to delete task", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("task", "delete", "failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return store.ErrTaskNotFound
	}

	return nil
}

// taskArgs flattens a task into the insert argument list, matching
// taskColumns order.
func taskArgs(task *domain.Task) []any {
	return []any{
		task.ID,
		task.OwnerID,
		task.OwnerEmail,
		task.DocumentName,
		string(task.Workflow),
		task.SourceLang,
		task.TargetLang,
		task.Engine,
		string(task.Priority),
		nullString(task.Notes),
		string(task.Status),
		task.Progress,
		nullString(task.ProgressMessage),
		nullString(task.Error),
		nullString(task.InputKey),
		nullString(task.Output.Key), nullString(task.Output.URL),
		nullString(task.MonoOutput.Key), nullString(task.MonoOutput.URL),
		nullString(task.DualOutput.Key), nullString(task.DualOutput.URL),
		nullString(task.GlossaryOutput.Key), nullString(task.GlossaryOutput.URL),
		nullString(task.ArchiveOutput.Key), nullString(task.ArchiveOutput.URL),
		nullString(task.MarkdownOutput.Key), nullString(task.MarkdownOutput.URL),
		nullString(task.TranslatedMarkdown.Key), nullString(task.TranslatedMarkdown.URL),
		nullString(task.ProviderConfigID),
		nullBytes(task.Overrides),
		nullString(task.ExtractJobID),
		task.PageCount,
		task.CreatedAt,
		task.UpdatedAt,
		nullTime(task.CompletedAt),
	}
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task                            domain.Task
		workflow, priority, status      string
		notes, progressMessage, errText sql.NullString
		inputKey                        sql.NullString
		outKey, outURL                  sql.NullString
		monoKey, monoURL                sql.NullString
		dualKey, dualURL                sql.NullString
		glossaryKey, glossaryURL        sql.NullString
		archiveKey, archiveURL          sql.NullString
		markdownKey, markdownURL        sql.NullString
		translatedKey, translatedURL    sql.NullString
		providerConfigID, extractJobID  sql.NullString
		overrides                       []byte
		completedAt                     sql.NullTime
	)

	err := row.Scan(
		&task.ID, &task.OwnerID, &task.OwnerEmail, &task.DocumentName, &workflow,
		&task.SourceLang, &task.TargetLang, &task.Engine, &priority, &notes,
		&status, &task.Progress, &progressMessage, &errText,
		&inputKey,
		&outKey, &outURL,
		&monoKey, &monoURL,
		&dualKey, &dualURL,
		&glossaryKey, &glossaryURL,
		&archiveKey, &archiveURL,
		&markdownKey, &markdownURL,
		&translatedKey, &translatedURL,
		&providerConfigID, &overrides, &extractJobID, &task.PageCount,
		&task.CreatedAt, &task.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Workflow = domain.Workflow(workflow)
	task.Priority = domain.Priority(priority)
	task.Status = domain.Status(status)
	task.Notes = notes.String
	task.ProgressMessage = progressMessage.String
	task.Error = errText.String
	task.InputKey = inputKey.String
	task.Output = domain.Artifact{Key: outKey.String, URL: outURL.String}
	task.MonoOutput = domain.Artifact{Key: monoKey.String, URL: monoURL.String}
	task.DualOutput = domain.Artifact{Key: dualKey.String, URL: dualURL.String}
	task.GlossaryOutput = domain.Artifact{Key: glossaryKey.String, URL: glossaryURL.String}
	task.ArchiveOutput = domain.Artifact{Key: archiveKey.String, URL: archiveURL.String}
	task.MarkdownOutput = domain.Artifact{Key: markdownKey.String, URL: markdownURL.String}
	task.TranslatedMarkdown = domain.Artifact{Key: translatedKey.String, URL: translatedURL.String}
	task.ProviderConfigID = providerConfigID.String
	task.Overrides = overrides
	task.ExtractJobID = extractJobID.String
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}

	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("task", "scan", "failed to scan task row", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "scan", "row iteration failed", err)
	}
	return tasks, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
