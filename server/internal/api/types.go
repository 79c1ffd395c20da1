package api

import "github.com/probewatch/probewatch/server/internal/store"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is idle (no session), running, or complete (terminal session).
	State            string `json:"state"`
	HasActiveSession bool   `json:"has_active_session"`
	SessionID        string `json:"session_id,omitempty"`
	Observers        int    `json:"observers"`
	Pending          int    `json:"pending"`
}

// BatchResponse answers batch start, batch complete and clear.
type BatchResponse struct {
	SessionID string        `json:"session_id"`
	Total     int           `json:"total"`
	Terminal  bool          `json:"terminal"`
	Summary   store.Summary `json:"summary"`
}

// EventResponse is the outcome of one submitted event.
type EventResponse struct {
	Identity *int64 `json:"identity"`
	Outcome  string `json:"outcome,omitempty"`
	Order    int    `json:"order,omitempty"`
	Error    string `json:"error,omitempty"`
}

// EventsResponse answers a batch of events.
type EventsResponse struct {
	Accepted int             `json:"accepted"`
	Rejected int             `json:"rejected"`
	Results  []EventResponse `json:"results"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
