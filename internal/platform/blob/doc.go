// Package blob is the object storage gateway for task artifacts. An
// unconfigured deployment yields ErrNotConfigured from every operation so
// callers can fail fast before persisting state.
package blob
