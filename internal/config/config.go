package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"    validate:"required"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Task     TaskConfig     `mapstructure:"task"     validate:"required"`
	Provider ProviderConfig `mapstructure:"provider"`
	Quota    QuotaConfig    `mapstructure:"quota"`
}

// QuotaConfig contains the daily consumption budget charged per owner.
type QuotaConfig struct {
	// DailyPageLimit caps the pages one owner may submit per calendar day.
	// Zero or negative disables the cap; usage is still recorded.
	DailyPageLimit int `mapstructure:"daily_page_limit"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// RedisConfig contains settings for the durable queue and cache store.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required"`

	// TaskCacheTTL bounds staleness of the task detail cache.
	TaskCacheTTL time.Duration `mapstructure:"task_cache_ttl"`

	// ListCacheTTL bounds staleness of the per-owner task list cache.
	ListCacheTTL time.Duration `mapstructure:"list_cache_ttl"`
}

// BlobConfig contains object storage settings. The blob store may be left
// unconfigured; task creation then fails with a distinguishable "not
// configured" error before any state is persisted.
type BlobConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`

	// FileTTLDays is stamped onto uploaded objects as an expiry tag so an
	// external reaper can collect them. Advisory only.
	FileTTLDays int `mapstructure:"file_ttl_days"`
}

// Configured reports whether the settings required to reach the store are
// all present.
func (c BlobConfig) Configured() bool {
	return c.AccessKey != "" && c.SecretKey != "" && c.Bucket != "" && c.Region != ""
}

// TaskConfig contains scheduler and lifecycle settings.
type TaskConfig struct {
	// MaxConcurrent bounds the number of simultaneously executing tasks.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"required,gt=0"`

	// MonitorInterval is the fixed delay between queue monitor passes.
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`

	// ResumeTimeout bounds the whole crash-recovery scan at startup.
	ResumeTimeout time.Duration `mapstructure:"resume_timeout"`
}

// ProviderConfig contains defaults for external provider calls.
type ProviderConfig struct {
	// DefaultEngine is used when neither the task nor its provider
	// configuration names a translation engine.
	DefaultEngine string `mapstructure:"default_engine"`

	// DefaultModel is used when no model is configured.
	DefaultModel string `mapstructure:"default_model"`

	// Threads is the default chunk fan-out for translation calls.
	Threads int `mapstructure:"threads"`

	// MaxConcurrentCalls caps simultaneous calls per provider, guarding the
	// vendor's shared rate limit. Layered under the task-level bound.
	MaxConcurrentCalls int `mapstructure:"max_concurrent_calls"`
}
