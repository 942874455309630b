package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/store"
)

const providerConfigColumns = `id, name, provider_type, description,
	is_active, is_default, settings, created_at, updated_at`

// ProviderConfigStore implements store.ProviderConfigStore using PostgreSQL.
type ProviderConfigStore struct {
	db store.DBTX
}

// NewProviderConfigStore creates a new ProviderConfigStore.
func NewProviderConfigStore(db store.DBTX) *ProviderConfigStore {
	return &ProviderConfigStore{db: db}
}

// GetByID retrieves a provider configuration by ID.
func (s *ProviderConfigStore) GetByID(ctx context.Context, id string) (*domain.ProviderConfig, error) {
	query := `SELECT ` + providerConfigColumns + ` FROM provider_configs WHERE id = $1`

	cfg, err := scanProviderConfig(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProviderConfigNotFound
		}
		return nil, store.NewStoreError("provider_config", "get", "failed to scan provider config", err)
	}
	return cfg, nil
}

// GetActiveByType returns active configurations of the given provider type,
// defaults first, then oldest first.
func (s *ProviderConfigStore) GetActiveByType(ctx context.Context, providerType string) ([]*domain.ProviderConfig, error) {
	query := `SELECT ` + providerConfigColumns + ` FROM provider_configs
		WHERE provider_type = $1 AND is_active
		ORDER BY is_default DESC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, providerType)
	if err != nil {
		return nil, store.NewStoreError("provider_config", "list", "failed to query provider configs", err)
	}
	defer func() { _ = rows.Close() }()

	var configs []*domain.ProviderConfig
	for rows.Next() {
		cfg, err := scanProviderConfig(rows)
		if err != nil {
			return nil, store.NewStoreError("provider_config", "scan", "failed to scan provider config row", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("provider_config", "scan", "row iteration failed", err)
	}
	return configs, nil
}

func scanProviderConfig(row rowScanner) (*domain.ProviderConfig, error) {
	var (
		cfg         domain.ProviderConfig
		description sql.NullString
		settings    []byte
	)

	err := row.Scan(
		&cfg.ID, &cfg.Name, &cfg.Type, &description,
		&cfg.IsActive, &cfg.IsDefault, &settings,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Settings = settings
	return &cfg, nil
}
