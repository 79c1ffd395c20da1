package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/probewatch/probewatch/pkg/types"
)

// Store is the thread-safe session store. At most one session exists at a
// time; a new batch start replaces it.
type Store struct {
	mu  sync.RWMutex
	cur *session
	rev uint64 // bumped on every applied change, never reset

	now   func() time.Time // injectable for deterministic tests
	newID func() string
}

// New creates an empty Store with no session.
func New() *Store {
	return &Store{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Start begins a new session expecting total probes. Any previous session,
// terminal or not, is discarded together with its display order. Callers
// that archive sessions read Current before calling Start.
func (s *Store) Start(total int) (View, error) {
	if total < 0 {
		return View{}, ErrInvalidTotal
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur = newSession(s.newID(), total, s.now().UTC())
	s.rev++
	slog.Debug("store: session started", "session", s.cur.id, "total", total)
	return s.cur.view(s.rev), nil
}

// Merge applies one event to the current session.
func (s *Store) Merge(ev types.Event) (MergeResult, error) {
	id, ok := ev.ID()
	if !ok {
		return MergeResult{}, ErrMalformedEvent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil {
		return MergeResult{Identity: id}, ErrNoActiveSession
	}
	if s.cur.terminal {
		return MergeResult{Identity: id}, ErrSessionClosed
	}

	res := s.cur.merge(id, ev, &s.rev)
	if res.Outcome == OutcomeApplied && s.cur.allTerminal() {
		s.cur.close(s.now().UTC())
		res.Closed = true
		slog.Debug("store: every probe terminal, session closed", "session", s.cur.id)
	}
	return res, nil
}

// Complete handles the executor's batch-complete signal: it merges the final
// results it carries, fails any probe still in flight, and closes the
// session. Completing an already terminal session is a no-op that returns
// its view.
func (s *Store) Complete(c types.BatchComplete) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil {
		return View{}, ErrNoActiveSession
	}
	if s.cur.terminal {
		return s.cur.view(s.rev), nil
	}

	skipped := 0
	for _, ev := range c.Results {
		id, ok := ev.ID()
		if !ok {
			skipped++
			continue
		}
		s.cur.merge(id, ev, &s.rev)
	}
	if skipped > 0 {
		slog.Warn("store: completion carried results without identity", "session", s.cur.id, "skipped", skipped)
	}
	if n := s.cur.finalize(&s.rev); n > 0 {
		slog.Info("store: forced unfinished probes to failed", "session", s.cur.id, "count", n)
	}

	s.cur.close(s.now().UTC())
	s.rev++

	sum := s.cur.frozen
	if c.Total > 0 && c.Total != s.cur.total {
		slog.Warn("store: completion total differs from batch start",
			"session", s.cur.id, "announced", s.cur.total, "reported", c.Total)
	}
	if c.SuccessCount != sum.Success {
		slog.Warn("store: completion success count differs from derived count",
			"session", s.cur.id, "reported", c.SuccessCount, "derived", sum.Success)
	}
	return s.cur.view(s.rev), nil
}

// Clear drops the current session and returns its final view.
func (s *Store) Clear() (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return View{}, false
	}
	v := s.cur.view(s.rev)
	s.cur = nil
	s.rev++
	return v, true
}

// Get returns the result for one identity, including probes still Waiting.
func (s *Store) Get(id int64) (ProbeResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return ProbeResult{}, false
	}
	e, ok := s.cur.entries[id]
	if !ok {
		return ProbeResult{}, false
	}
	return e.result, true
}

// Snapshot returns every displayed result in display order. Probes that have
// only ever been Waiting are not included.
func (s *Store) Snapshot() []ProbeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return []ProbeResult{}
	}
	return s.cur.displayed(0)
}

// Summary returns the current session's aggregate. For a terminal session
// this is the summary frozen at close.
func (s *Store) Summary() (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return Summary{}, false
	}
	return s.cur.summary(), true
}

// Current returns a complete copy of the current session.
func (s *Store) Current() (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return View{}, false
	}
	return s.cur.view(s.rev), true
}

// Changes returns the displayed results that changed after revision since
// in session sessionID. If sessionID is not the current session the delta is
// Full. It returns false when there is no session.
func (s *Store) Changes(sessionID string, since uint64) (Delta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return Delta{}, false
	}
	d := Delta{
		SessionID: s.cur.id,
		Total:     s.cur.total,
		Summary:   s.cur.summary(),
		Terminal:  s.cur.terminal,
		Revision:  s.rev,
	}
	if sessionID != s.cur.id {
		d.Full = true
		since = 0
	}
	d.Results = s.cur.displayed(since)
	return d, true
}

// Revision returns the store's change counter.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}
