// Package postgres provides PostgreSQL implementations of the store
// interfaces. All implementations work against store.DBTX so they run
// equally inside and outside transactions.
package postgres
