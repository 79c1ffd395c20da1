// Package shipper relays executor commands to probewatch-server over gRPC
// (IngestService.StartBatch, SendEvent and CompleteBatch unary RPCs).
//
// Shipper.Ship() is non-blocking: commands are appended to an in-memory queue
// (default capacity 1000). When the queue is full the oldest probe event is
// evicted; batch start and complete signals are kept so the server always
// sees the session boundaries.
//
// Shipper.Run() sends the queue head first, reconnecting with truncated
// exponential backoff (1s→60s, ±25% jitter) on connection or send errors.
// A command stays queued until acknowledged, so ordering survives reconnects.
// Permanent gRPC errors (Unauthenticated, PermissionDenied, InvalidArgument,
// FailedPrecondition) discard the command rather than retrying.
//
// Auth: mTLS via credentials.NewTLS(), API key via gRPC metadata header,
// or insecure (plaintext) for local development.
//
// The dialFn field is injectable for testing (net.Listen on loopback).
package shipper
