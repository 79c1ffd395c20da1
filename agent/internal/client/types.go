package client

import (
	"time"

	"github.com/probewatch/probewatch/pkg/types"
)

// Push channel event names.
const (
	EventResume   = "resume"
	EventUpdate   = "update"
	EventComplete = "complete"
)

// Result is one displayed probe as the server reports it.
type Result struct {
	Identity      int64        `json:"identity"`
	Order         int          `json:"order"`
	State         string       `json:"state"`
	Attempt       int          `json:"attempt,omitempty"`
	Max           int          `json:"max,omitempty"`
	RawStatus     string       `json:"raw_status"`
	VPNType       string       `json:"vpn_type"`
	Country       string       `json:"country"`
	Provider      string       `json:"provider"`
	TestedAddress string       `json:"tested_address"`
	LatencyMs     types.Millis `json:"latency_ms"`
	JitterMs      types.Millis `json:"jitter_ms"`
	ICMPStatus    string       `json:"icmp_status"`
}

// Summary holds the aggregate counts of a session.
type Summary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Timeout    int `json:"timeout"`
	Dead       int `json:"dead"`
	Missing    int `json:"missing"`
	InProgress int `json:"in_progress"`
	Percentage int `json:"percentage"`
}

// Session is the resume payload from GET /api/v1/session and the data of a
// resume message.
type Session struct {
	HasActiveSession bool       `json:"has_active_session"`
	SessionID        string     `json:"session_id,omitempty"`
	Results          []Result   `json:"results"`
	Total            int        `json:"total"`
	Completed        int        `json:"completed"`
	Summary          Summary    `json:"summary"`
	Terminal         bool       `json:"terminal"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Revision         uint64     `json:"revision"`
}

// Update is the data of an update message: the rows changed since the last
// message this observer received.
type Update struct {
	SessionID string   `json:"session_id"`
	Results   []Result `json:"results"`
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Summary   Summary  `json:"summary"`
	Revision  uint64   `json:"revision"`
}

// Complete is the data of a complete message.
type Complete struct {
	SessionID   string     `json:"session_id"`
	Summary     Summary    `json:"summary"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Health is the response of GET /api/v1/health.
type Health struct {
	State            string `json:"state"`
	HasActiveSession bool   `json:"has_active_session"`
	SessionID        string `json:"session_id,omitempty"`
	Observers        int    `json:"observers"`
	Pending          int    `json:"pending"`
}

// Record is one archived session from GET /api/v1/history.
type Record struct {
	SessionID   string     `json:"session_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Terminal    bool       `json:"terminal"`
	Summary     Summary    `json:"summary"`
	SavedAt     time.Time  `json:"saved_at"`
}
