package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional config.yaml in the working
// directory and from environment variables with the PAGELIFT_ prefix.
// Environment variables take precedence over file values. Returns a
// populated, validated Config or an error describing what is wrong.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAGELIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; env vars may carry everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("redis.task_cache_ttl", 5*time.Minute)
	v.SetDefault("redis.list_cache_ttl", time.Minute)

	v.SetDefault("blob.use_ssl", true)
	v.SetDefault("blob.file_ttl_days", 30)

	v.SetDefault("task.max_concurrent", 3)
	v.SetDefault("task.monitor_interval", 5*time.Second)
	v.SetDefault("task.resume_timeout", 30*time.Second)

	v.SetDefault("provider.default_engine", "google")
	v.SetDefault("provider.threads", 4)
	v.SetDefault("provider.max_concurrent_calls", 2)

	v.SetDefault("quota.daily_page_limit", 500)
}
