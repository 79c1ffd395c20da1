// Package metrics exposes the live session and ingest counters in the
// Prometheus text format. Families are built from current values on every
// scrape; nothing is registered globally.
package metrics

import (
	"log/slog"
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/probewatch/probewatch/server/internal/ingest"
	"github.com/probewatch/probewatch/server/internal/store"
)

const namespace = "probewatch"

// Sources supplies the values reported on each scrape. Nil funcs are skipped.
type Sources struct {
	Summary   func() (store.Summary, bool)
	Ingest    func() ingest.Stats
	Pending   func() int
	Observers func() int
}

// Gather builds the metric families, sorted by name.
func Gather(src Sources) []*dto.MetricFamily {
	var out []*dto.MetricFamily

	if src.Summary != nil {
		s, active := src.Summary()
		out = append(out,
			gauge("session_active", "1 while a session exists.", b2f(active)),
			gauge("session_total", "Probes announced for the current session.", float64(s.Total)),
			gauge("session_completed", "Probes in a terminal state.", float64(s.Completed)),
			gauge("session_percentage", "Completion percentage of the current session.", float64(s.Percentage)),
			labelled(dto.MetricType_GAUGE, "session_probes", "Probes in the current session by outcome.", "outcome", map[string]float64{
				"success":     float64(s.Success),
				"failed":      float64(s.Failed),
				"timeout":     float64(s.Timeout),
				"dead":        float64(s.Dead),
				"missing":     float64(s.Missing),
				"in_progress": float64(s.InProgress),
			}),
		)
	}

	if src.Ingest != nil {
		st := src.Ingest()
		out = append(out,
			labelled(dto.MetricType_COUNTER, "ingest_events_total", "Events received by merge outcome.", "outcome", map[string]float64{
				"applied":   float64(st.Applied),
				"duplicate": float64(st.Duplicate),
				"stale":     float64(st.Stale),
				"malformed": float64(st.Malformed),
				"rejected":  float64(st.Rejected),
			}),
			counter("ingest_sessions_total", "Sessions started.", float64(st.Sessions)),
		)
	}

	if src.Pending != nil {
		out = append(out, gauge("ingest_queue_depth", "Commands waiting for the store writer.", float64(src.Pending())))
	}
	if src.Observers != nil {
		out = append(out, gauge("ws_observers", "Connected WebSocket observers.", float64(src.Observers())))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// Handler serves Gather(src) as text exposition.
func Handler(src Sources) http.Handler {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range Gather(src) {
			if err := enc.Encode(mf); err != nil {
				slog.Error("metrics: encode failed", "family", mf.GetName(), "err", err)
				return
			}
		}
	})
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return single(dto.MetricType_GAUGE, name, help, v)
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return single(dto.MetricType_COUNTER, name, help, v)
}

func single(t dto.MetricType, name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + "_" + name),
		Help:   proto.String(help),
		Type:   t.Enum(),
		Metric: []*dto.Metric{metric(t, v)},
	}
}

func labelled(t dto.MetricType, name, help, label string, values map[string]float64) *dto.MetricFamily {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf := &dto.MetricFamily{
		Name: proto.String(namespace + "_" + name),
		Help: proto.String(help),
		Type: t.Enum(),
	}
	for _, k := range keys {
		m := metric(t, values[k])
		m.Label = []*dto.LabelPair{{Name: proto.String(label), Value: proto.String(k)}}
		mf.Metric = append(mf.Metric, m)
	}
	return mf
}

func metric(t dto.MetricType, v float64) *dto.Metric {
	if t == dto.MetricType_COUNTER {
		return &dto.Metric{Counter: &dto.Counter{Value: proto.Float64(v)}}
	}
	return &dto.Metric{Gauge: &dto.Gauge{Value: proto.Float64(v)}}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
