package store

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/probewatch/probewatch/pkg/types"
	"github.com/probewatch/probewatch/server/internal/status"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newStarted(t *testing.T, total int) *Store {
	t.Helper()
	st := New()
	if _, err := st.Start(total); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return st
}

func ev(id int64, raw string) types.Event {
	return types.Event{Identity: types.ID(id), RawStatus: raw}
}

func merge(t *testing.T, st *Store, e types.Event) MergeResult {
	t.Helper()
	res, err := st.Merge(e)
	if err != nil {
		t.Fatalf("Merge(%d, %q): %v", *e.Identity, e.RawStatus, err)
	}
	return res
}

func orderOf(t *testing.T, st *Store, id int64) int {
	t.Helper()
	r, ok := st.Get(id)
	if !ok {
		return 0
	}
	return r.Order
}

func TestScenario1_SummaryProgression(t *testing.T) {
	st := newStarted(t, 3)

	merge(t, st, ev(0, "Testing"))
	sum, _ := st.Summary()
	if sum.Completed != 0 || sum.InProgress != 3 || sum.Percentage != 0 {
		t.Errorf("after testing: got %+v, want completed=0 in_progress=3 pct=0", sum)
	}

	e := ev(0, "✅")
	e.LatencyMs = types.Ms(25)
	merge(t, st, e)

	if o := orderOf(t, st, 0); o != 1 {
		t.Errorf("order(0): got %d, want 1", o)
	}
	sum, _ = st.Summary()
	if sum.Completed != 1 || sum.Success != 1 || sum.Percentage != 33 {
		t.Errorf("after success: got %+v, want completed=1 success=1 pct=33", sum)
	}
	r, _ := st.Get(0)
	if r.LatencyMs.Value != 25 {
		t.Errorf("latency: got %v, want 25", r.LatencyMs)
	}
}

func TestScenario2_FirstSeenOrder(t *testing.T) {
	st := newStarted(t, 3)

	merge(t, st, ev(2, "Testing"))
	if o := orderOf(t, st, 2); o != 1 {
		t.Errorf("order(2): got %d, want 1", o)
	}
	if o := orderOf(t, st, 1); o != 0 {
		t.Errorf("order(1) before any event: got %d, want unassigned", o)
	}

	merge(t, st, ev(1, "Testing"))
	if o := orderOf(t, st, 1); o != 2 {
		t.Errorf("order(1): got %d, want 2", o)
	}
}

func TestScenario3_ReplayIsIdempotent(t *testing.T) {
	st := newStarted(t, 3)
	e := ev(0, "✅")
	e.LatencyMs = types.Ms(25)

	merge(t, st, e)
	before, _ := st.Current()

	res := merge(t, st, e)
	if res.Outcome != OutcomeDuplicate {
		t.Errorf("outcome: got %v, want duplicate", res.Outcome)
	}

	after, _ := st.Current()
	if before.Revision != after.Revision {
		t.Errorf("revision moved on replay: %d -> %d", before.Revision, after.Revision)
	}
	if len(after.Results) != 1 || after.Results[0] != before.Results[0] {
		t.Errorf("results changed on replay: %+v -> %+v", before.Results, after.Results)
	}
}

func TestScenario4_NoSession(t *testing.T) {
	st := New()
	if _, ok := st.Current(); ok {
		t.Error("Current: expected none before any batch start")
	}
	if _, err := st.Merge(ev(0, "Testing")); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Merge without session: got %v, want ErrNoActiveSession", err)
	}
	if got := st.Snapshot(); got == nil || len(got) != 0 {
		t.Errorf("Snapshot: got %v, want empty slice", got)
	}
}

func TestMerge_MalformedEventLeavesStoreUntouched(t *testing.T) {
	st := newStarted(t, 2)
	merge(t, st, ev(0, "Testing"))
	rev := st.Revision()

	_, err := st.Merge(types.Event{RawStatus: "✅"})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("got %v, want ErrMalformedEvent", err)
	}
	if st.Revision() != rev {
		t.Error("revision moved after malformed event")
	}
}

func TestMerge_WaitingNeverGetsOrder(t *testing.T) {
	st := newStarted(t, 3)

	merge(t, st, ev(1, "WAIT"))
	merge(t, st, ev(1, ""))

	r, ok := st.Get(1)
	if !ok {
		t.Fatal("Get: waiting probe should still be stored")
	}
	if r.Order != 0 {
		t.Errorf("order: got %d, want 0", r.Order)
	}
	if n := len(st.Snapshot()); n != 0 {
		t.Errorf("Snapshot: got %d results, want 0", n)
	}
}

func TestMerge_OrderPermanent(t *testing.T) {
	st := newStarted(t, 2)

	merge(t, st, ev(5, "Testing"))
	for _, raw := range []string{"Timeout Retry 1/3", "Timeout Retry 2/3", "WAIT", "✅", "Testing", "❌"} {
		merge(t, st, ev(7, "Testing"))
		merge(t, st, ev(5, raw))
		if o := orderOf(t, st, 5); o != 1 {
			t.Fatalf("after %q: order(5) = %d, want 1", raw, o)
		}
	}
	if o := orderOf(t, st, 7); o != 2 {
		t.Errorf("order(7): got %d, want 2", o)
	}
}

func TestMerge_OrderDenseUnderShuffle(t *testing.T) {
	const n = 50
	st := newStarted(t, n+10)

	rng := rand.New(rand.NewSource(1))
	ids := rng.Perm(n)
	for _, id := range ids {
		merge(t, st, ev(int64(id), "WAIT"))
	}
	for _, id := range ids {
		merge(t, st, ev(int64(id), "Testing"))
	}
	// Extra identities that only ever wait must not consume numbers.
	for id := n; id < n+10; id++ {
		merge(t, st, ev(int64(id), "WAIT"))
	}

	snap := st.Snapshot()
	if len(snap) != n {
		t.Fatalf("Snapshot: got %d, want %d", len(snap), n)
	}
	for i, r := range snap {
		if r.Order != i+1 {
			t.Fatalf("snap[%d].Order = %d, want %d", i, r.Order, i+1)
		}
		if r.Identity != int64(ids[i]) {
			t.Errorf("snap[%d].Identity = %d, want %d (first-seen order)", i, r.Identity, ids[i])
		}
	}
}

func TestMerge_StaleSeqIgnored(t *testing.T) {
	st := newStarted(t, 2)

	newer := ev(0, "✅")
	newer.Seq = 5
	older := ev(0, "Testing")
	older.Seq = 3

	merge(t, st, newer)
	res := merge(t, st, older)
	if res.Outcome != OutcomeStale {
		t.Errorf("outcome: got %v, want stale", res.Outcome)
	}
	r, _ := st.Get(0)
	if r.State.Kind != status.Success {
		t.Errorf("state: got %v, want success", r.State)
	}
}

func TestMerge_StaleSeqIgnoredAfterUnversionedWrite(t *testing.T) {
	st := newStarted(t, 2)

	versioned := ev(0, "Timeout Retry 1/3")
	versioned.Seq = 5
	merge(t, st, versioned)
	merge(t, st, ev(0, "✅"))

	older := ev(0, "Testing")
	older.Seq = 3
	if res := merge(t, st, older); res.Outcome != OutcomeStale {
		t.Errorf("outcome: got %v, want stale", res.Outcome)
	}
	r, _ := st.Get(0)
	if r.State.Kind != status.Success || r.Seq != 0 {
		t.Errorf("stored: got %v seq=%d, want success seq=0", r.State, r.Seq)
	}

	newer := ev(0, "❌")
	newer.Seq = 6
	if res := merge(t, st, newer); res.Outcome != OutcomeApplied {
		t.Errorf("newer outcome: got %v, want applied", res.Outcome)
	}
}

func TestMerge_UnversionedIsLastWriteWins(t *testing.T) {
	st := newStarted(t, 2)
	merge(t, st, ev(0, "❌"))
	merge(t, st, ev(0, "Testing"))

	r, _ := st.Get(0)
	if r.State.Kind != status.Testing {
		t.Errorf("state: got %v, want testing", r.State)
	}
}

func TestMerge_DefaultsFilled(t *testing.T) {
	st := newStarted(t, 1)
	merge(t, st, ev(0, "Testing"))

	r, _ := st.Get(0)
	if r.VPNType != types.DefaultVPNType || r.Country != types.DefaultCountry ||
		r.Provider != types.DefaultProvider || r.TestedAddress != types.DefaultTestedAddress ||
		r.ICMPStatus != types.DefaultICMPStatus {
		t.Errorf("sentinels not applied: %+v", r)
	}
	if r.LatencyMs.Value != types.Unknown || r.JitterMs.Value != types.Unknown {
		t.Errorf("measurements: got %v/%v, want -1/-1", r.LatencyMs, r.JitterMs)
	}
}

func TestMerge_AutoClosesWhenAllTerminal(t *testing.T) {
	st := newStarted(t, 2)

	if res := merge(t, st, ev(0, "✅")); res.Closed {
		t.Fatal("closed after first of two probes")
	}
	res := merge(t, st, ev(1, "Dead"))
	if !res.Closed {
		t.Fatal("expected session to close once every probe is terminal")
	}

	if _, err := st.Merge(ev(1, "✅")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("merge after close: got %v, want ErrSessionClosed", err)
	}
	v, _ := st.Current()
	if !v.Terminal || v.CompletedAt == nil {
		t.Errorf("view: terminal=%v completed_at=%v", v.Terminal, v.CompletedAt)
	}
	if v.Summary.Completed != 2 || v.Summary.Failed != 1 || v.Summary.Dead != 1 {
		t.Errorf("frozen summary: %+v", v.Summary)
	}
}

func TestComplete_ForcesInFlightAndFreezes(t *testing.T) {
	st := newStarted(t, 4)
	merge(t, st, ev(0, "Testing"))
	merge(t, st, ev(1, "Timeout Retry 2/3"))
	merge(t, st, ev(3, "WAIT"))

	final := ev(2, "✅")
	v, err := st.Complete(types.BatchComplete{SuccessCount: 1, Total: 4, Results: []types.Event{final}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !v.Terminal {
		t.Fatal("view not terminal")
	}

	for _, id := range []int64{0, 1} {
		r, _ := st.Get(id)
		if r.State.Kind != status.Failed || r.LatencyMs.Marker != types.MarkerTimeout {
			t.Errorf("probe %d: got %v latency=%v, want failed/timeout", id, r.State, r.LatencyMs)
		}
	}
	r, _ := st.Get(3)
	if r.State.Kind != status.Failed || r.RawStatus != "❌" {
		t.Errorf("waiting probe: got %v raw=%q, want failed", r.State, r.RawStatus)
	}
	if r.Order != 4 {
		t.Errorf("waiting probe order: got %d, want 4", r.Order)
	}
	if r.LatencyMs.Known() || r.LatencyMs.Marker != "" {
		t.Errorf("waiting probe latency: got %v, want unknown", r.LatencyMs)
	}
	if len(v.Results) != 4 {
		t.Errorf("displayed results: got %d, want 4", len(v.Results))
	}

	want := Summary{Total: 4, Completed: 4, Success: 1, Failed: 3, InProgress: 0, Percentage: 100}
	if v.Summary != want {
		t.Errorf("summary: got %+v, want %+v", v.Summary, want)
	}

	// Completing again is harmless.
	if _, err := st.Complete(types.BatchComplete{}); err != nil {
		t.Errorf("second Complete: %v", err)
	}
}

func TestComplete_CountsUnreportedAsMissing(t *testing.T) {
	st := newStarted(t, 3)
	merge(t, st, ev(0, "✅"))
	merge(t, st, ev(1, "WAIT"))

	v, err := st.Complete(types.BatchComplete{SuccessCount: 1, Total: 3})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	want := Summary{Total: 3, Completed: 3, Success: 1, Failed: 2, Missing: 1, InProgress: 0, Percentage: 100}
	if v.Summary != want {
		t.Errorf("summary: got %+v, want %+v", v.Summary, want)
	}
	if v.Summary.Completed != v.Summary.Success+v.Summary.Failed {
		t.Errorf("completed != success + failed: %+v", v.Summary)
	}
	if sum, _ := st.Summary(); sum != want {
		t.Errorf("Summary(): got %+v, want frozen %+v", sum, want)
	}
}

func TestComplete_NoSession(t *testing.T) {
	if _, err := New().Complete(types.BatchComplete{}); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("got %v, want ErrNoActiveSession", err)
	}
}

func TestStart_ResetsOrderAndSession(t *testing.T) {
	st := New()
	ids := []string{"first", "second"}
	st.newID = func() string { id := ids[0]; ids = ids[1:]; return id }
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	st.now = fixedClock(base)

	st.Start(2) //nolint:errcheck
	merge(t, st, ev(9, "Testing"))
	merge(t, st, ev(4, "Testing"))

	v, err := st.Start(3)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if v.ID != "second" || v.Total != 3 || !v.StartedAt.Equal(base) {
		t.Errorf("view: %+v", v)
	}
	if _, ok := st.Get(9); ok {
		t.Error("old session results leaked into new session")
	}
	merge(t, st, ev(4, "Testing"))
	if o := orderOf(t, st, 4); o != 1 {
		t.Errorf("order after restart: got %d, want 1", o)
	}
}

func TestStart_NegativeTotal(t *testing.T) {
	if _, err := New().Start(-1); !errors.Is(err, ErrInvalidTotal) {
		t.Errorf("got %v, want ErrInvalidTotal", err)
	}
}

func TestClear(t *testing.T) {
	st := newStarted(t, 1)
	merge(t, st, ev(0, "Testing"))

	v, ok := st.Clear()
	if !ok || len(v.Results) != 1 {
		t.Fatalf("Clear: got (%+v, %v)", v, ok)
	}
	if _, ok := st.Current(); ok {
		t.Error("Current after Clear: expected none")
	}
	if _, ok := st.Clear(); ok {
		t.Error("second Clear: expected false")
	}
}

func TestChanges_DeltaSinceRevision(t *testing.T) {
	st := newStarted(t, 3)
	merge(t, st, ev(0, "Testing"))
	merge(t, st, ev(1, "Testing"))

	d, ok := st.Changes("", 0)
	if !ok || !d.Full || len(d.Results) != 2 {
		t.Fatalf("initial delta: %+v", d)
	}

	merge(t, st, ev(1, "✅"))
	merge(t, st, ev(2, "WAIT"))

	d2, _ := st.Changes(d.SessionID, d.Revision)
	if d2.Full {
		t.Error("delta for same session should not be full")
	}
	if len(d2.Results) != 1 || d2.Results[0].Identity != 1 {
		t.Errorf("delta results: %+v, want only identity 1", d2.Results)
	}

	d3, _ := st.Changes(d2.SessionID, d2.Revision)
	if len(d3.Results) != 0 {
		t.Errorf("no-change delta: got %d results", len(d3.Results))
	}
}

func TestSummary_CompletedIsSuccessPlusFailed(t *testing.T) {
	raws := []string{"✅", "❌", "Dead", "Timeout", "Testing", "Timeout Retry 1/2", "WAIT", "●"}
	st := newStarted(t, 20)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		merge(t, st, ev(int64(rng.Intn(15)), raws[rng.Intn(len(raws))]))
		sum, _ := st.Summary()
		if sum.Completed != sum.Success+sum.Failed {
			t.Fatalf("step %d: completed %d != success %d + failed %d", i, sum.Completed, sum.Success, sum.Failed)
		}
		if sum.Completed+sum.InProgress != sum.Total {
			t.Fatalf("step %d: completed+in_progress = %d, want %d", i, sum.Completed+sum.InProgress, sum.Total)
		}
	}
}

func TestSummarize_ZeroTotal(t *testing.T) {
	sum := Summarize(0, nil)
	if sum.Percentage != 0 || sum.InProgress != 0 {
		t.Errorf("got %+v", sum)
	}
}

func TestAssigner(t *testing.T) {
	a := NewAssigner()
	if got := a.Assign(10); got != 1 {
		t.Errorf("Assign(10): got %d, want 1", got)
	}
	if got := a.Assign(3); got != 2 {
		t.Errorf("Assign(3): got %d, want 2", got)
	}
	if got := a.Assign(10); got != 1 {
		t.Errorf("Assign(10) again: got %d, want 1", got)
	}
	if _, ok := a.Lookup(99); ok {
		t.Error("Lookup(99): expected unassigned")
	}
	if a.Len() != 2 {
		t.Errorf("Len: got %d, want 2", a.Len())
	}
}

func TestConcurrentMergesAndReads(t *testing.T) {
	st := newStarted(t, 100)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			st.Merge(ev(int64(n), "Testing")) //nolint:errcheck
		}(i)
		go func() {
			defer wg.Done()
			st.Snapshot()
			st.Summary()
		}()
	}
	wg.Wait()

	snap := st.Snapshot()
	if len(snap) != 100 {
		t.Fatalf("Snapshot: got %d, want 100", len(snap))
	}
	seen := make(map[int]bool)
	for _, r := range snap {
		if seen[r.Order] {
			t.Fatalf("order %d assigned twice", r.Order)
		}
		seen[r.Order] = true
	}
	for i := 1; i <= 100; i++ {
		if !seen[i] {
			t.Errorf("order %d missing", i)
		}
	}
}

func ExampleSummarize() {
	results := []ProbeResult{
		{State: status.State{Kind: status.Success}},
		{State: status.State{Kind: status.Testing}},
	}
	fmt.Printf("%+v\n", Summarize(3, results))
	// Output: {Total:3 Completed:1 Success:1 Failed:0 Timeout:0 Dead:0 Missing:0 InProgress:2 Percentage:33}
}
