// Package task owns the task lifecycle: the Manager facade exposes the
// public operations (create, get, list, retry, cancel, delete) and the
// Scheduler governs execution, pulling queued ids under a bounded
// concurrency budget and recovering tasks stranded by a crash.
//
// Every mutation follows the same order: durable write first, then cache
// invalidation, then notification fanout. Cache and notification failures
// are logged and never fail the mutation.
package task
