// Package api provides the HTTP surface of the task service: task CRUD and
// lifecycle operations, the websocket status stream, and the queue status
// endpoint. Handlers translate between wire DTOs and the lifecycle
// manager's domain types; internal error details are logged server-side and
// never leak to clients.
package api
