// Package config defines the application's configuration structure and
// loading. Settings come from an optional config.yaml and PAGELIFT_-prefixed
// environment variables, with env taking precedence, and are validated
// before the process starts.
package config
