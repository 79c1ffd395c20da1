package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Display sentinels used when an Event omits a field.
const (
	DefaultVPNType       = "N/A"
	DefaultCountry       = "❓"
	DefaultProvider      = "-"
	DefaultTestedAddress = "-"
	DefaultICMPStatus    = "N/A"

	// Unknown is the numeric sentinel for a measurement that was not taken.
	Unknown = -1
)

// Measurement markers carried in place of a number.
const (
	MarkerTimeout = "timeout"
	MarkerDead    = "dead"
	MarkerFailed  = "failed"
)

// Millis is a millisecond measurement. When the probe produced no number the
// executor may send a marker string instead ("timeout", "dead", "failed"),
// which is kept in Marker with Value set to Unknown.
type Millis struct {
	Value  float64
	Marker string
}

// Ms returns a pointer to a numeric Millis.
func Ms(v float64) *Millis { return &Millis{Value: v} }

// Mark returns a pointer to a marker Millis.
func Mark(marker string) *Millis { return &Millis{Value: Unknown, Marker: marker} }

// UnknownMillis is the value used for an absent measurement.
func UnknownMillis() Millis { return Millis{Value: Unknown} }

// Known reports whether m holds a real measurement.
func (m Millis) Known() bool { return m.Marker == "" && m.Value >= 0 }

func (m Millis) String() string {
	if m.Marker != "" {
		return m.Marker
	}
	if m.Value < 0 {
		return "-"
	}
	return strconv.FormatFloat(m.Value, 'f', -1, 64) + "ms"
}

// MarshalJSON encodes a marker as a string and everything else as a number.
func (m Millis) MarshalJSON() ([]byte, error) {
	if m.Marker != "" {
		return json.Marshal(m.Marker)
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts a number, a numeric string, a marker string or null.
// Unrecognised strings decode as Unknown rather than failing the event.
func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = UnknownMillis()
		return nil
	}
	if data[0] != '"' {
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("millis: %w", err)
		}
		*m = Millis{Value: v}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("millis: %w", err)
	}
	*m = parseMillis(s)
	return nil
}

func parseMillis(s string) Millis {
	s = strings.ToLower(strings.TrimSpace(s))
	if v, err := strconv.ParseFloat(strings.TrimSuffix(s, "ms"), 64); err == nil {
		return Millis{Value: v}
	}
	switch {
	case strings.Contains(s, "timeout"):
		return *Mark(MarkerTimeout)
	case strings.Contains(s, "dead"), strings.Contains(s, "unreachable"):
		return *Mark(MarkerDead)
	case strings.Contains(s, "fail"), strings.Contains(s, "error"):
		return *Mark(MarkerFailed)
	}
	return UnknownMillis()
}

// Event is one status update for one probe, as emitted by the Probe Executor.
// Identity is the only required field.
type Event struct {
	Identity      *int64  `json:"identity"`
	RawStatus     string  `json:"raw_status"`
	VPNType       string  `json:"vpn_type,omitempty"`
	Country       string  `json:"country,omitempty"`
	Provider      string  `json:"provider,omitempty"`
	TestedAddress string  `json:"tested_address,omitempty"`
	LatencyMs     *Millis `json:"latency_ms,omitempty"`
	JitterMs      *Millis `json:"jitter_ms,omitempty"`
	ICMPStatus    string  `json:"icmp_status,omitempty"`

	// Seq is an optional per-identity sequence number. When the executor sets
	// it, the server discards events older than the one already merged.
	// Zero means unversioned (last write wins).
	Seq uint64 `json:"seq,omitempty"`
}

// ID returns the event identity and whether one was supplied.
func (e Event) ID() (int64, bool) {
	if e.Identity == nil {
		return 0, false
	}
	return *e.Identity, true
}

// ID is a convenience for building events in code.
func ID(v int64) *int64 { return &v }
