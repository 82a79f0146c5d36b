// Package server provides the HTTP status service of a running migration.
//
// # Router Infrastructure
//
// [BasicRouter] implements [Router] on top of [http.ServeMux] with method filtering. [Middleware]
// added with Use wraps in reverse order, so the last added runs first.
//
// # Endpoints
//
//   - GET /healthz : liveness, always "ok" while the process runs
//   - GET /status : JSON snapshot of the current phase and record counts, see [Tracker]
//   - GET /metrics : Prometheus exposition of the run registry
//
// [StatusServer] binds the listener eagerly so a bad --status-addr fails before the run starts,
// then serves in the background until [StatusServer.Shutdown].
//
// [StatusHandler] and [HealthHandler] implement [Handler] and declare their own routes.
package server
