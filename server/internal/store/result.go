package store

import (
	"encoding/json"

	"github.com/probewatch/probewatch/pkg/types"
	"github.com/probewatch/probewatch/server/internal/status"
)

// ProbeResult is the reconciled state of one probe. Order is 0 until the
// probe is first seen in a state other than Waiting.
type ProbeResult struct {
	Identity      int64        `json:"identity"`
	Order         int          `json:"order"`
	State         status.State `json:"state"`
	RawStatus     string       `json:"raw_status"`
	VPNType       string       `json:"vpn_type"`
	Country       string       `json:"country"`
	Provider      string       `json:"provider"`
	TestedAddress string       `json:"tested_address"`
	LatencyMs     types.Millis `json:"latency_ms"`
	JitterMs      types.Millis `json:"jitter_ms"`
	ICMPStatus    string       `json:"icmp_status"`
	Seq           uint64       `json:"seq,omitempty"`
}

// MarshalJSON writes State as its kind name and, for a retry with known
// progress, adds "attempt" and "max" next to it.
func (r ProbeResult) MarshalJSON() ([]byte, error) {
	type plain ProbeResult
	return json.Marshal(struct {
		plain
		Attempt int `json:"attempt,omitempty"`
		Max     int `json:"max,omitempty"`
	}{plain(r), r.State.Attempt, r.State.Max})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *ProbeResult) UnmarshalJSON(b []byte) error {
	type plain ProbeResult
	var v struct {
		plain
		Attempt int `json:"attempt"`
		Max     int `json:"max"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = ProbeResult(v.plain)
	if v.Attempt != 0 || v.Max != 0 {
		r.State.Attempt, r.State.Max = v.Attempt, v.Max
	}
	return nil
}

// fromEvent builds a complete result from ev, filling sentinels for every
// field the executor left out. The caller has already checked the identity.
func fromEvent(id int64, ev types.Event) ProbeResult {
	r := ProbeResult{
		Identity:      id,
		State:         status.Classify(ev.RawStatus),
		RawStatus:     ev.RawStatus,
		VPNType:       orDefault(ev.VPNType, types.DefaultVPNType),
		Country:       orDefault(ev.Country, types.DefaultCountry),
		Provider:      orDefault(ev.Provider, types.DefaultProvider),
		TestedAddress: orDefault(ev.TestedAddress, types.DefaultTestedAddress),
		LatencyMs:     types.UnknownMillis(),
		JitterMs:      types.UnknownMillis(),
		ICMPStatus:    orDefault(ev.ICMPStatus, types.DefaultICMPStatus),
		Seq:           ev.Seq,
	}
	if ev.LatencyMs != nil {
		r.LatencyMs = *ev.LatencyMs
	}
	if ev.JitterMs != nil {
		r.JitterMs = *ev.JitterMs
	}
	return r
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
