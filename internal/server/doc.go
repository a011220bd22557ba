// Package server exposes the watch daemon over HTTP.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Handlers
//
// [StatusHandler] serves /healthz and /runs from the sync run history.
// [SyncHandler] accepts POST /sync to queue a run on the daemon's scheduler, with ?repair=true for a full pass.
// The Prometheus scrape handler is mounted at /metrics by the caller.
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
