package store

import (
	"sort"
	"time"

	"github.com/probewatch/probewatch/pkg/types"
	"github.com/probewatch/probewatch/server/internal/status"
)

// Outcome reports what a merge did.
type Outcome int

const (
	// OutcomeApplied means the stored result was replaced.
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate means the event matched the stored result exactly.
	OutcomeDuplicate
	// OutcomeStale means the event's Seq was older than the stored one.
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeStale:
		return "stale"
	default:
		return "unknown"
	}
}

// MergeResult describes one merge. Order is the probe's display position
// after the merge (0 if it is still Waiting). Closed is set when this merge
// brought the session to its terminal state.
type MergeResult struct {
	Identity int64
	Outcome  Outcome
	Order    int
	Closed   bool
}

// View is a point-in-time copy of a session. Results holds only probes with
// an assigned display order, sorted by it.
type View struct {
	ID          string        `json:"session_id"`
	Total       int           `json:"total"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Terminal    bool          `json:"terminal"`
	Results     []ProbeResult `json:"results"`
	Summary     Summary       `json:"summary"`
	Revision    uint64        `json:"revision"`
}

// Delta is the set of displayed results that changed after a given revision.
// Full is set when the caller's session id no longer matches, in which case
// Results holds every displayed result.
type Delta struct {
	SessionID string
	Full      bool
	Results   []ProbeResult
	Total     int
	Summary   Summary
	Terminal  bool
	Revision  uint64
}

type entry struct {
	result ProbeResult
	rev    uint64
	// maxSeq is the highest Seq ever applied to this probe. Unversioned
	// writes replace the result but never lower it.
	maxSeq uint64
}

// session is one batch. All access goes through Store, which holds the lock.
type session struct {
	id          string
	total       int
	startedAt   time.Time
	completedAt time.Time
	terminal    bool
	order       *Assigner
	entries     map[int64]*entry
	frozen      Summary
}

func newSession(id string, total int, now time.Time) *session {
	return &session{
		id:        id,
		total:     total,
		startedAt: now,
		order:     NewAssigner(),
		entries:   make(map[int64]*entry),
	}
}

// merge applies ev to the session, bumping *rev when the result changes.
func (s *session) merge(id int64, ev types.Event, rev *uint64) MergeResult {
	next := fromEvent(id, ev)

	maxSeq := next.Seq
	if cur, ok := s.entries[id]; ok {
		next.Order = cur.result.Order
		if next == cur.result {
			return MergeResult{Identity: id, Outcome: OutcomeDuplicate, Order: cur.result.Order}
		}
		if next.Seq > 0 && next.Seq <= cur.maxSeq {
			return MergeResult{Identity: id, Outcome: OutcomeStale, Order: cur.result.Order}
		}
		if cur.maxSeq > maxSeq {
			maxSeq = cur.maxSeq
		}
	}

	if next.State.Kind != status.Waiting {
		next.Order = s.order.Assign(id)
	}
	*rev++
	s.entries[id] = &entry{result: next, rev: *rev, maxSeq: maxSeq}
	return MergeResult{Identity: id, Outcome: OutcomeApplied, Order: next.Order}
}

// finalize fails every probe that has not reached a terminal state:
// Testing and Retrying probes get a timeout latency, Waiting ones are
// shown for the first time. It returns the number of probes it changed.
// Probes are visited in identity order so late display positions are
// stable.
func (s *session) finalize(rev *uint64) int {
	ids := make([]int64, 0, len(s.entries))
	for id, e := range s.entries {
		if !e.result.State.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		e := s.entries[id]
		r := e.result
		if r.State.Kind != status.Waiting {
			r.LatencyMs = *types.Mark(types.MarkerTimeout)
		}
		r.State = status.State{Kind: status.Failed}
		r.RawStatus = "❌"
		if r.Order == 0 {
			r.Order = s.order.Assign(id)
		}
		*rev++
		s.entries[id] = &entry{result: r, rev: *rev, maxSeq: e.maxSeq}
	}
	return len(ids)
}

// close freezes the summary. Announced probes that never reported are
// counted as missing, which is part of failed, so a closed session has
// nothing in progress.
func (s *session) close(now time.Time) {
	sum := s.summary()
	if gap := s.total - sum.Completed; gap > 0 {
		sum.Missing = gap
		sum.Completed += gap
		sum.Failed += gap
		sum.finish()
	}
	s.frozen = sum
	s.terminal = true
	s.completedAt = now
}

// summary returns the frozen summary for a terminal session and a freshly
// derived one otherwise.
func (s *session) summary() Summary {
	if s.terminal {
		return s.frozen
	}
	sum := Summary{Total: s.total}
	for _, e := range s.entries {
		sum.add(e.result.State)
	}
	sum.finish()
	return sum
}

// allTerminal reports whether every announced probe has a terminal result.
func (s *session) allTerminal() bool {
	if s.total <= 0 {
		return false
	}
	return s.summary().Completed >= s.total
}

// displayed returns copies of the ordered results with rev > since, sorted
// by display order.
func (s *session) displayed(since uint64) []ProbeResult {
	out := make([]ProbeResult, 0, s.order.Len())
	for _, e := range s.entries {
		if e.result.Order == 0 || e.rev <= since {
			continue
		}
		out = append(out, e.result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (s *session) view(rev uint64) View {
	v := View{
		ID:        s.id,
		Total:     s.total,
		StartedAt: s.startedAt,
		Terminal:  s.terminal,
		Results:   s.displayed(0),
		Summary:   s.summary(),
		Revision:  rev,
	}
	if s.terminal {
		t := s.completedAt
		v.CompletedAt = &t
	}
	return v
}
