// Package quota tracks per-owner daily page consumption. It is consulted
// only at the API edge: the create handler charges before creating a task
// and refunds when creation fails. The lifecycle itself never touches it.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pagelift/pagelift-api/internal/store"
)

// ErrExceeded is returned by Charge when the owner's daily budget cannot
// cover the request.
var ErrExceeded = errors.New("daily page quota exceeded")

// Manager charges and refunds page counts against an owner's daily budget.
type Manager interface {
	Charge(ctx context.Context, ownerID string, pages int) error
	Refund(ctx context.Context, ownerID string, pages int) error
}

// PostgresManager keeps one usage row per owner per calendar day. The day
// column rolls over naturally: a new day simply inserts a fresh row.
type PostgresManager struct {
	db         store.DBTX
	dailyLimit int
}

// NewPostgresManager creates a PostgresManager. A dailyLimit of zero or
// less records usage without ever rejecting a charge.
func NewPostgresManager(db store.DBTX, dailyLimit int) *PostgresManager {
	return &PostgresManager{db: db, dailyLimit: dailyLimit}
}

// Charge atomically adds pages to today's counter, failing with ErrExceeded
// when the addition would pass the daily limit. Nothing is recorded on a
// rejected charge.
func (m *PostgresManager) Charge(ctx context.Context, ownerID string, pages int) error {
	if pages <= 0 {
		return nil
	}
	if m.dailyLimit > 0 && pages > m.dailyLimit {
		return fmt.Errorf("%w: %d pages requested, limit is %d", ErrExceeded, pages, m.dailyLimit)
	}

	query := `
		INSERT INTO quota_usage (owner_id, day, pages_used)
		VALUES ($1, CURRENT_DATE, $2)
		ON CONFLICT (owner_id, day) DO UPDATE
		SET pages_used = quota_usage.pages_used + EXCLUDED.pages_used,
		    updated_at = NOW()
		WHERE $3 <= 0 OR quota_usage.pages_used + EXCLUDED.pages_used <= $3
		RETURNING pages_used`

	var used int
	err := m.db.QueryRowContext(ctx, query, ownerID, pages, m.dailyLimit).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: limit is %d pages per day", ErrExceeded, m.dailyLimit)
	}
	if err != nil {
		return store.NewStoreError("quota", "charge", "failed to charge quota", err)
	}
	return nil
}

// Refund subtracts pages from today's counter, floored at zero. Refunding
// an owner with no usage today is a no-op.
func (m *PostgresManager) Refund(ctx context.Context, ownerID string, pages int) error {
	if pages <= 0 {
		return nil
	}

	query := `
		UPDATE quota_usage
		SET pages_used = GREATEST(pages_used - $2, 0), updated_at = NOW()
		WHERE owner_id = $1 AND day = CURRENT_DATE`

	if _, err := m.db.ExecContext(ctx, query, ownerID, pages); err != nil {
		return store.NewStoreError("quota", "refund", "failed to refund quota", err)
	}
	return nil
}
