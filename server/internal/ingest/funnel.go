package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/probewatch/probewatch/pkg/types"
	"github.com/probewatch/probewatch/server/internal/status"
	"github.com/probewatch/probewatch/server/internal/store"
)

// Default values used when Options leaves a field zero.
const (
	DefaultBufferSize    = 1024
	DefaultSubmitTimeout = 2 * time.Second
)

var (
	// ErrBusy is returned when the queue stayed full for the submit timeout.
	ErrBusy = errors.New("ingest: queue full")

	// ErrStopped is returned after Run has exited.
	ErrStopped = errors.New("ingest: funnel stopped")
)

// Archiver persists sessions that have closed or been replaced.
type Archiver interface {
	Save(ctx context.Context, v store.View) error
}

// Notifier is told about sessions that reached their terminal state.
type Notifier interface {
	SessionClosed(v store.View)
}

// Options configures a Funnel.
type Options struct {
	BufferSize    int
	SubmitTimeout time.Duration
	Archiver      Archiver // optional
	Notifier      Notifier // optional
}

// Stats are monotonically increasing counters of funnel activity.
type Stats struct {
	Applied   uint64
	Duplicate uint64
	Stale     uint64
	Malformed uint64
	Rejected  uint64 // no session or session closed
	Sessions  uint64
}

type op int

const (
	opStart op = iota
	opEvent
	opComplete
	opClear
)

type request struct {
	op       op
	start    types.BatchStart
	event    types.Event
	complete types.BatchComplete
	reply    chan reply
}

type reply struct {
	view  store.View
	ok    bool
	merge store.MergeResult
	err   error
}

// Funnel serializes writes to a store.Store.
type Funnel struct {
	st   *store.Store
	in   chan request
	opts Options

	done    chan struct{}
	hooks   sync.WaitGroup
	stopped atomic.Bool

	applied, duplicate, stale, malformed, rejected, sessions atomic.Uint64
}

// New creates a Funnel writing to st. Run must be started before any write.
func New(st *store.Store, opts Options) *Funnel {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultSubmitTimeout
	}
	return &Funnel{
		st:   st,
		in:   make(chan request, opts.BufferSize),
		opts: opts,
		done: make(chan struct{}),
	}
}

// Run applies queued commands until ctx is cancelled, then waits for any
// archive or notify hooks still in flight.
func (f *Funnel) Run(ctx context.Context) {
	defer func() {
		f.stopped.Store(true)
		close(f.done)
		f.hooks.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-f.in:
			req.reply <- f.apply(req)
		}
	}
}

// Start submits a batch-start signal.
func (f *Funnel) Start(ctx context.Context, s types.BatchStart) (store.View, error) {
	r, err := f.submit(ctx, request{op: opStart, start: s})
	if err != nil {
		return store.View{}, err
	}
	return r.view, r.err
}

// Event submits one probe event.
func (f *Funnel) Event(ctx context.Context, ev types.Event) (store.MergeResult, error) {
	if _, ok := ev.ID(); !ok {
		f.malformed.Add(1)
		slog.Warn("ingest: dropping event without identity", "raw_status", ev.RawStatus)
		return store.MergeResult{}, store.ErrMalformedEvent
	}
	r, err := f.submit(ctx, request{op: opEvent, event: ev})
	if err != nil {
		return store.MergeResult{}, err
	}
	return r.merge, r.err
}

// Complete submits a batch-complete signal.
func (f *Funnel) Complete(ctx context.Context, c types.BatchComplete) (store.View, error) {
	r, err := f.submit(ctx, request{op: opComplete, complete: c})
	if err != nil {
		return store.View{}, err
	}
	return r.view, r.err
}

// Clear drops the current session. It reports false when there was none.
func (f *Funnel) Clear(ctx context.Context) (store.View, bool, error) {
	r, err := f.submit(ctx, request{op: opClear})
	if err != nil {
		return store.View{}, false, err
	}
	return r.view, r.ok, nil
}

// Stats returns a copy of the funnel counters.
func (f *Funnel) Stats() Stats {
	return Stats{
		Applied:   f.applied.Load(),
		Duplicate: f.duplicate.Load(),
		Stale:     f.stale.Load(),
		Malformed: f.malformed.Load(),
		Rejected:  f.rejected.Load(),
		Sessions:  f.sessions.Load(),
	}
}

// Pending returns the number of queued commands.
func (f *Funnel) Pending() int { return len(f.in) }

func (f *Funnel) submit(ctx context.Context, req request) (reply, error) {
	if f.stopped.Load() {
		return reply{}, ErrStopped
	}
	req.reply = make(chan reply, 1)

	t := time.NewTimer(f.opts.SubmitTimeout)
	defer t.Stop()

	select {
	case f.in <- req:
	case <-t.C:
		return reply{}, ErrBusy
	case <-f.done:
		return reply{}, ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r, nil
	case <-f.done:
		return reply{}, ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// apply runs on the Run goroutine only.
func (f *Funnel) apply(req request) reply {
	switch req.op {
	case opStart:
		prev, had := f.st.Current()
		v, err := f.st.Start(req.start.Total)
		if err != nil {
			return reply{err: fmt.Errorf("start batch: %w", err)}
		}
		f.sessions.Add(1)
		if had {
			f.retire(prev)
		}
		slog.Info("ingest: batch started", "session", v.ID, "total", v.Total)
		return reply{view: v, ok: true}

	case opEvent:
		res, err := f.st.Merge(req.event)
		f.count(res, err)
		if err != nil {
			return reply{merge: res, err: err}
		}
		if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
			slog.Debug("ingest: event merged", "identity", res.Identity,
				"state", classified(req.event.RawStatus), "outcome", res.Outcome.String(), "order", res.Order)
		}
		if res.Closed {
			if v, ok := f.st.Current(); ok {
				slog.Info("ingest: every probe finished", "session", v.ID,
					"success", v.Summary.Success, "failed", v.Summary.Failed)
				f.closed(v)
			}
		}
		return reply{merge: res}

	case opComplete:
		before, _ := f.st.Current()
		v, err := f.st.Complete(req.complete)
		if err != nil {
			f.rejected.Add(1)
			return reply{err: fmt.Errorf("complete batch: %w", err)}
		}
		if !before.Terminal {
			slog.Info("ingest: batch complete", "session", v.ID,
				"success", v.Summary.Success, "total", v.Total)
			f.closed(v)
		}
		return reply{view: v, ok: true}

	case opClear:
		v, ok := f.st.Clear()
		if ok {
			slog.Info("ingest: session cleared", "session", v.ID)
			f.retire(v)
		}
		return reply{view: v, ok: ok}
	}
	return reply{err: fmt.Errorf("ingest: unknown op %d", req.op)}
}

func (f *Funnel) count(res store.MergeResult, err error) {
	switch {
	case errors.Is(err, store.ErrMalformedEvent):
		f.malformed.Add(1)
	case err != nil:
		f.rejected.Add(1)
		slog.Debug("ingest: event rejected", "identity", res.Identity, "err", err)
	case res.Outcome == store.OutcomeApplied:
		f.applied.Add(1)
	case res.Outcome == store.OutcomeDuplicate:
		f.duplicate.Add(1)
	case res.Outcome == store.OutcomeStale:
		f.stale.Add(1)
		slog.Debug("ingest: stale event ignored", "identity", res.Identity)
	}
}

// retire archives a session that is being replaced. Terminal sessions were
// archived when they closed; saving again keeps the latest copy.
func (f *Funnel) retire(v store.View) {
	f.archive(v)
}

func (f *Funnel) closed(v store.View) {
	f.archive(v)
	if f.opts.Notifier == nil {
		return
	}
	f.hooks.Add(1)
	go func() {
		defer f.hooks.Done()
		f.opts.Notifier.SessionClosed(v)
	}()
}

func (f *Funnel) archive(v store.View) {
	if f.opts.Archiver == nil {
		return
	}
	f.hooks.Add(1)
	go func() {
		defer f.hooks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := f.opts.Archiver.Save(ctx, v); err != nil {
			slog.Error("ingest: archive session failed", "session", v.ID, "err", err)
		}
	}()
}

// classified renders the state and the rule that produced it.
func classified(raw string) string {
	s, rule := status.Explain(raw)
	return s.String() + " (" + rule + ")"
}
