package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider config validation errors
var (
	// ErrProviderConfigNameEmpty is returned when a provider config has no name.
	ErrProviderConfigNameEmpty = fmt.Errorf("%w: provider config name cannot be empty", ErrValidation)

	// ErrProviderConfigTypeEmpty is returned when a provider config has no type.
	ErrProviderConfigTypeEmpty = fmt.Errorf("%w: provider config type cannot be empty", ErrValidation)

	// ErrProviderConfigInvalidSettings is returned when provider settings are
	// not valid JSON.
	ErrProviderConfigInvalidSettings = fmt.Errorf("%w: provider config settings must be valid JSON", ErrValidation)
)

// ProviderConfig is a stored configuration for an external translation or
// extraction provider. Settings is a JSON object whose shape is provider
// specific (API tokens, model names, concurrency hints).
type ProviderConfig struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	IsActive    bool            `json:"is_active"`
	IsDefault   bool            `json:"is_default"`
	Settings    json.RawMessage `json:"settings"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewProviderConfig creates an active ProviderConfig with a fresh ID.
func NewProviderConfig(name, providerType string, settings json.RawMessage) (*ProviderConfig, error) {
	now := time.Now().UTC()
	cfg := &ProviderConfig{
		ID:        uuid.New(),
		Name:      name,
		Type:      providerType,
		IsActive:  true,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the ProviderConfig holds consistent data.
func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		return ErrProviderConfigNameEmpty
	}

	if c.Type == "" {
		return ErrProviderConfigTypeEmpty
	}

	if len(c.Settings) > 0 {
		var js json.RawMessage
		if err := json.Unmarshal(c.Settings, &js); err != nil {
			return ErrProviderConfigInvalidSettings
		}
	}

	return nil
}

// SettingsMap decodes the JSON settings into a map. Invalid or empty
// settings decode to an empty map rather than an error; provider settings
// are operator supplied and a malformed blob must not break execution.
func (c *ProviderConfig) SettingsMap() map[string]any {
	if len(c.Settings) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(c.Settings, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}
