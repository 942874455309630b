// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the application's core logic, allowing the lifecycle manager and the
// scheduler to remain independent of specific database technologies.
package store
