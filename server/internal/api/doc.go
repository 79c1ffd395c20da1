// Package api implements the HTTP REST API for probewatch-server.
//
// New(deps) returns an http.Handler that serves:
//
//	GET    /api/v1/session            resume payload for the current session
//	DELETE /api/v1/session            drop the current session
//	GET    /api/v1/summary            aggregate counts; 404 when no session
//	GET    /api/v1/results            displayed results in display order
//	GET    /api/v1/results/{id}       one displayed result; 404 if unknown or waiting
//	POST   /api/v1/batches            start a batch: {"total": n}
//	POST   /api/v1/batches/complete   complete it: {"success_count", "total", "results"}
//	POST   /api/v1/events             one event object or an array of them
//	GET    /api/v1/health             server state and observer count
//	GET    /api/v1/history            archived sessions, newest first (?limit=n)
//	GET    /api/v1/history/{id}       one archived session with its results
//
// All endpoints respond with Content-Type: application/json and return 405
// for an unsupported method. Write routes are wrapped by Deps.Guard, which
// the server sets to the API key middleware from package auth. Writes go
// through the ingest funnel; reads go straight to the store.
package api
