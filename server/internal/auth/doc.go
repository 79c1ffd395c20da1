// Package auth guards the write paths of probewatch-server.
//
// A Policy is built from the auth section of the server config. Its Unary
// method returns a gRPC interceptor for the ingest service and its Middleware
// method wraps HTTP handlers for the REST write routes. Both read the key
// from the same header name: gRPC metadata for the former, an HTTP request
// header for the latter.
//
// When Mode is not "apikey" or Key is empty every call passes through, which
// is how local development runs.
package auth
