package client

import (
	"encoding/json"
	"fmt"
	"sort"
)

// View rebuilds the full session picture from push-channel messages.
// It is not safe for concurrent use.
type View struct {
	session Session
	byID    map[int64]int
}

// NewView returns an empty View (no session).
func NewView() *View {
	return &View{byID: map[int64]int{}}
}

// Session returns the current picture. Results are in display order.
func (v *View) Session() Session {
	s := v.session
	s.Results = append([]Result(nil), v.session.Results...)
	return s
}

// Apply folds one message into the view.
func (v *View) Apply(msg Message) error {
	switch msg.Event {
	case EventResume:
		var s Session
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			return fmt.Errorf("client: decode resume: %w", err)
		}
		v.reset(s)

	case EventUpdate:
		var u Update
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			return fmt.Errorf("client: decode update: %w", err)
		}
		if u.SessionID != v.session.SessionID {
			// Missed the resume for a new session; start over from the delta.
			v.reset(Session{HasActiveSession: true, SessionID: u.SessionID})
		}
		v.merge(u.Results)
		v.session.Total = u.Total
		v.session.Completed = u.Completed
		v.session.Summary = u.Summary
		v.session.Revision = u.Revision

	case EventComplete:
		var c Complete
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			return fmt.Errorf("client: decode complete: %w", err)
		}
		if c.SessionID == v.session.SessionID {
			v.session.Terminal = true
			v.session.Summary = c.Summary
			v.session.Completed = c.Summary.Completed
			v.session.CompletedAt = c.CompletedAt
		}

	default:
		return fmt.Errorf("client: unknown event %q", msg.Event)
	}
	return nil
}

func (v *View) reset(s Session) {
	v.session = s
	v.session.Results = nil
	v.byID = map[int64]int{}
	v.merge(s.Results)
}

func (v *View) merge(rows []Result) {
	if len(rows) == 0 {
		return
	}
	for _, r := range rows {
		if i, ok := v.byID[r.Identity]; ok {
			v.session.Results[i] = r
			continue
		}
		v.session.Results = append(v.session.Results, r)
		v.byID[r.Identity] = len(v.session.Results) - 1
	}
	sort.SliceStable(v.session.Results, func(i, j int) bool {
		return v.session.Results[i].Order < v.session.Results[j].Order
	})
	for i, r := range v.session.Results {
		v.byID[r.Identity] = i
	}
}
