package status

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the closed set of semantic probe states.
type Kind int

const (
	Waiting Kind = iota
	Testing
	Retrying
	Success
	Timeout
	Dead
	Failed
)

var kindNames = [...]string{
	Waiting:  "waiting",
	Testing:  "testing",
	Retrying: "retrying",
	Success:  "success",
	Timeout:  "timeout",
	Dead:     "dead",
	Failed:   "failed",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return Waiting, fmt.Errorf("status: unknown kind %q", s)
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// State is a classified probe state. Attempt and Max are set only for
// Retrying and may both be zero when the token carried no progress.
type State struct {
	Kind    Kind
	Attempt int
	Max     int
}

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	switch s.Kind {
	case Success, Timeout, Dead, Failed:
		return true
	}
	return false
}

func (s State) String() string {
	if s.Kind == Retrying && s.Max > 0 {
		return fmt.Sprintf("retrying %d/%d", s.Attempt, s.Max)
	}
	return s.Kind.String()
}

// MarshalJSON encodes the state as its lowercase kind name. Retry progress
// is not part of the encoding; ProbeResult carries it in sibling fields.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Kind)
}

// UnmarshalJSON decodes a kind name. The older object form
// {"kind": "...", "attempt": n, "max": m} is still accepted so archived
// sessions keep decoding.
func (s *State) UnmarshalJSON(b []byte) error {
	var k Kind
	if err := json.Unmarshal(b, &k); err == nil {
		*s = State{Kind: k}
		return nil
	}
	var v struct {
		Kind    Kind `json:"kind"`
		Attempt int  `json:"attempt"`
		Max     int  `json:"max"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("status: decode state: %w", err)
	}
	*s = State{Kind: v.Kind, Attempt: v.Attempt, Max: v.Max}
	return nil
}

// rule is one classification step. match returns ok=false to pass the token
// on to the next rule.
type rule struct {
	name  string
	match func(raw, lower string) (State, bool)
}

var retryProgress = regexp.MustCompile(`(?i)retry\s*(\d+)\s*/\s*(\d+)`)

// rules is evaluated in order; the first match wins.
var rules = []rule{
	{"retry", matchRetry},
	{"testing", matchAny(Testing, contains("testing", "probing"), exact("🔄"))},
	{"success", matchAny(Success, exact("✅", "●"), contains("success"))},
	{"timeout", matchAny(Timeout, contains("timeout"))},
	{"dead", matchAny(Dead, contains("dead", "unreachable", "💀"))},
	{"failed", matchAny(Failed, exact("❌"), prefix("✖"), contains("fail", "error"))},
}

// Classify maps a raw status token to its State. Unknown, empty and "WAIT"
// tokens are Waiting.
func Classify(raw string) State {
	s, _ := classify(raw)
	return s
}

// Explain is Classify plus the name of the rule that matched ("default" when
// none did). Used for debug logging.
func Explain(raw string) (State, string) {
	return classify(raw)
}

func classify(raw string) (State, string) {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	for _, r := range rules {
		if s, ok := r.match(raw, lower); ok {
			return s, r.name
		}
	}
	return State{Kind: Waiting}, "default"
}

func matchRetry(raw, lower string) (State, bool) {
	if m := retryProgress.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		of, _ := strconv.Atoi(m[2])
		return State{Kind: Retrying, Attempt: n, Max: of}, true
	}
	if raw == "🔁" || strings.Contains(lower, "retry") {
		return State{Kind: Retrying}, true
	}
	return State{}, false
}

type predicate func(raw, lower string) bool

func contains(subs ...string) predicate {
	return func(_, lower string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func exact(tokens ...string) predicate {
	return func(raw, _ string) bool {
		for _, t := range tokens {
			if raw == t {
				return true
			}
		}
		return false
	}
}

func prefix(p string) predicate {
	return func(raw, _ string) bool { return strings.HasPrefix(raw, p) }
}

func matchAny(k Kind, preds ...predicate) func(raw, lower string) (State, bool) {
	return func(raw, lower string) (State, bool) {
		for _, p := range preds {
			if p(raw, lower) {
				return State{Kind: k}, true
			}
		}
		return State{}, false
	}
}
