// Package notify pushes task-state deltas to connected clients through a
// per-owner multiplexed hub. Delivery is fire-and-forget with no ordering
// guarantee relative to the read path; the task row stays the source of
// truth.
package notify
