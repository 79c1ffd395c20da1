// Package resume answers the question a freshly attached or reconnecting
// observer asks first: is there a session, and what does it look like right
// now? The answer is a single state transfer built from one consistent read
// of the store, never a replay of past events.
package resume

import (
	"time"

	"github.com/probewatch/probewatch/server/internal/store"
)

// Payload is the full resume payload. When HasActiveSession is false every
// other field is zero and Results is an empty list.
type Payload struct {
	HasActiveSession bool                `json:"has_active_session"`
	SessionID        string              `json:"session_id,omitempty"`
	Results          []store.ProbeResult `json:"results"`
	Total            int                 `json:"total"`
	Completed        int                 `json:"completed"`
	Summary          store.Summary       `json:"summary"`
	Terminal         bool                `json:"terminal"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	Revision         uint64              `json:"revision"`
}

// Source is the part of the store the service reads.
type Source interface {
	Current() (store.View, bool)
}

// Service builds resume payloads from a Source.
type Service struct {
	src Source
}

// New creates a Service reading from src.
func New(src Source) *Service {
	return &Service{src: src}
}

// Current returns the current session's payload, or false when no batch has
// started (or the last one was cleared). A terminal session is still
// returned, marked Terminal, until a new batch replaces it.
func (s *Service) Current() (Payload, bool) {
	v, ok := s.src.Current()
	if !ok {
		return Payload{Results: []store.ProbeResult{}}, false
	}
	return FromView(v), true
}

// Payload is Current without the boolean, for handlers that always answer.
func (s *Service) Payload() Payload {
	p, _ := s.Current()
	return p
}

// FromView converts a store view into the payload observers receive.
func FromView(v store.View) Payload {
	started := v.StartedAt
	p := Payload{
		HasActiveSession: true,
		SessionID:        v.ID,
		Results:          v.Results,
		Total:            v.Total,
		Completed:        v.Summary.Completed,
		Summary:          v.Summary,
		Terminal:         v.Terminal,
		StartedAt:        &started,
		CompletedAt:      v.CompletedAt,
		Revision:         v.Revision,
	}
	if p.Results == nil {
		p.Results = []store.ProbeResult{}
	}
	return p
}
