package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/probewatch/probewatch/server/internal/ingest"
	"github.com/probewatch/probewatch/server/internal/store"
)

func sources() Sources {
	return Sources{
		Summary: func() (store.Summary, bool) {
			return store.Summary{Total: 4, Completed: 3, Success: 1, Failed: 2, Timeout: 1, Missing: 1, InProgress: 1, Percentage: 75}, true
		},
		Ingest:    func() ingest.Stats { return ingest.Stats{Applied: 9, Duplicate: 2, Stale: 1, Sessions: 3} },
		Pending:   func() int { return 5 },
		Observers: func() int { return 2 },
	}
}

func scrape(t *testing.T, h http.Handler) map[string]*dto.MetricFamily {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var p expfmt.TextParser
	mfs, err := p.TextToMetricFamilies(rr.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	return mfs
}

func value(mf *dto.MetricFamily, label string) float64 {
	for _, m := range mf.GetMetric() {
		if label != "" {
			if len(m.GetLabel()) == 0 || m.GetLabel()[0].GetValue() != label {
				continue
			}
		}
		if m.Counter != nil {
			return m.Counter.GetValue()
		}
		return m.Gauge.GetValue()
	}
	return -1
}

func TestHandler_RoundTrip(t *testing.T) {
	mfs := scrape(t, Handler(sources()))

	checks := []struct {
		name, label string
		want        float64
	}{
		{"probewatch_session_active", "", 1},
		{"probewatch_session_total", "", 4},
		{"probewatch_session_completed", "", 3},
		{"probewatch_session_percentage", "", 75},
		{"probewatch_session_probes", "success", 1},
		{"probewatch_session_probes", "failed", 2},
		{"probewatch_session_probes", "in_progress", 1},
		{"probewatch_session_probes", "missing", 1},
		{"probewatch_ingest_events_total", "applied", 9},
		{"probewatch_ingest_events_total", "duplicate", 2},
		{"probewatch_ingest_sessions_total", "", 3},
		{"probewatch_ingest_queue_depth", "", 5},
		{"probewatch_ws_observers", "", 2},
	}
	for _, c := range checks {
		mf, ok := mfs[c.name]
		if !ok {
			t.Errorf("%s: missing", c.name)
			continue
		}
		if got := value(mf, c.label); got != c.want {
			t.Errorf("%s{%s}: got %v, want %v", c.name, c.label, got, c.want)
		}
	}

	if mfs["probewatch_ingest_events_total"].GetType() != dto.MetricType_COUNTER {
		t.Error("ingest_events_total should be a counter")
	}
}

func TestGather_NoSession(t *testing.T) {
	src := Sources{Summary: func() (store.Summary, bool) { return store.Summary{}, false }}
	var active float64 = -1
	for _, mf := range Gather(src) {
		if mf.GetName() == "probewatch_session_active" {
			active = value(mf, "")
		}
	}
	if active != 0 {
		t.Errorf("session_active: got %v, want 0", active)
	}
}

func TestGather_SkipsNilSources(t *testing.T) {
	if n := len(Gather(Sources{})); n != 0 {
		t.Errorf("families: got %d, want 0", n)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler(sources()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}
