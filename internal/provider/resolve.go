package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pagelift/pagelift-api/internal/config"
	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/store"
)

// Resolver builds the effective Settings for a task: service-level defaults,
// overlaid with the stored provider configuration, overlaid with the task's
// own overrides. Later layers win.
type Resolver struct {
	configs  store.ProviderConfigStore
	defaults config.ProviderConfig
}

// NewResolver creates a Resolver over the given store and defaults.
func NewResolver(configs store.ProviderConfigStore, defaults config.ProviderConfig) *Resolver {
	return &Resolver{configs: configs, defaults: defaults}
}

// Resolve returns the Settings for one call. providerType selects the
// active configuration row when the task does not pin one. A pinned
// configuration that does not exist resolves to store.ErrProviderConfigNotFound;
// a pinned but deactivated one resolves to ErrDisabled.
func (r *Resolver) Resolve(ctx context.Context, task *domain.Task, providerType string) (Settings, error) {
	settings := Settings{
		Engine:  task.Engine,
		Model:   r.defaults.DefaultModel,
		Threads: r.defaults.Threads,
		Extra: map[string]any{
			"max_concurrent_calls": float64(r.defaults.MaxConcurrentCalls),
		},
	}
	if settings.Engine == "" {
		settings.Engine = r.defaults.DefaultEngine
	}

	cfg, err := r.lookup(ctx, task, providerType)
	if err != nil {
		return Settings{}, err
	}
	if cfg != nil {
		mergeExtra(&settings, cfg.SettingsMap())
	}

	if len(task.Overrides) > 0 {
		var overrides map[string]any
		if err := json.Unmarshal(task.Overrides, &overrides); err != nil {
			return Settings{}, fmt.Errorf("%w: task overrides are not a JSON object", domain.ErrTaskInvalidOverrides)
		}
		mergeExtra(&settings, overrides)
	}

	return settings, nil
}

func (r *Resolver) lookup(ctx context.Context, task *domain.Task, providerType string) (*domain.ProviderConfig, error) {
	if task.ProviderConfigID != "" {
		cfg, err := r.configs.GetByID(ctx, task.ProviderConfigID)
		if err != nil {
			return nil, fmt.Errorf("resolving provider configuration %s: %w", task.ProviderConfigID, err)
		}
		if !cfg.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrDisabled, cfg.Name)
		}
		return cfg, nil
	}

	configs, err := r.configs.GetActiveByType(ctx, providerType)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolving active %s provider: %w", providerType, err)
	}
	if len(configs) == 0 {
		return nil, nil
	}
	// Defaults sort first, so the head row is the effective config.
	return configs[0], nil
}

// mergeExtra folds layer into settings, promoting the well-known keys into
// their typed fields.
func mergeExtra(settings *Settings, layer map[string]any) {
	for key, value := range layer {
		switch key {
		case "engine":
			if s, ok := value.(string); ok && s != "" {
				settings.Engine = s
			}
		case "model":
			if s, ok := value.(string); ok && s != "" {
				settings.Model = s
			}
		case "threads":
			if n, ok := value.(float64); ok && n >= 1 {
				settings.Threads = int(n)
			}
		default:
			settings.Extra[key] = value
		}
	}
}
