// Package ws implements the WebSocket hub that keeps observers in sync with
// the live session.
//
// Every message is a JSON envelope:
//
//	{ "event": "<name>", "data": { ... } }
//
// Events:
//
//	resume    full state transfer (same schema as GET /api/v1/session). Sent on
//	          connect, whenever the session id changes or the session is
//	          cleared, and on request.
//	update    results touched since the observer's previous update, in
//	          display order, plus the current summary.
//	complete  the frozen summary, once per session when it turns terminal.
//
// The hub pushes on a ticker (Push.Interval, default 1s); ticks with nothing
// new for an observer send it nothing. An observer can ask for a fresh resume
// by sending {"event":"resume"}.
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/stream by the server.
package ws
