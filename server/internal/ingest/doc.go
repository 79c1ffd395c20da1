// Package ingest is the single serialization point between the transports
// that receive executor output (gRPC, HTTP) and the session store.
//
// Every write is submitted to a bounded queue and applied by one goroutine
// (Funnel.Run), in arrival order. Callers block until their command has been
// applied and receive its outcome; if the queue stays full for longer than
// the submit timeout they get ErrBusy instead. Malformed events are counted,
// logged and rejected without reaching the queue.
//
// When a session is retired (new batch, clear) or closes, the funnel hands a
// copy of it to the optional Archiver and Notifier on their own goroutines,
// so slow disks or webhooks never stall merges.
package ingest
