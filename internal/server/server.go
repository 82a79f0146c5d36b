// package server contains middleware & handlers for the migration status service
package server

import "net/http"

// Middleware wraps every request served by the status service.
type Middleware func(http.Handler) http.Handler

// Handler is a [http.Handler] that knows the paths it serves, so the status and health
// endpoints register themselves.
type Handler interface {
	http.Handler
	Routes() []string
}

// Router registers handlers behind a middleware stack.
type Router interface {
	http.Handler
	Use(middleware ...Middleware)
	Handle(method, path string, handler http.Handler)
	Handler(handler Handler)
}

var (
	_ Router  = (*BasicRouter)(nil)
	_ Handler = (*StatusHandler)(nil)
	_ Handler = HealthHandler{}
)
