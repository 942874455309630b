// Package pipeline runs one task through its workflow: translate, extract,
// or extract followed by translate. Each workflow is a fixed sequence of
// stages, and each stage owns a band of the task's 0-100 progress range.
// The executor writes state changes through an injected update callback and
// never touches queues or caches directly.
package pipeline
