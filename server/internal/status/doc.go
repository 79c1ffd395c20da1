// Package status maps the free-form status tokens a Probe Executor emits
// ("WAIT", "🔄", "Timeout Retry 2/3", "✅", "Dead", ...) onto a closed set of
// states.
//
// Classification walks an ordered rule list and stops at the first match, so
// overlapping tokens resolve deterministically: a retry token that also
// mentions "Timeout" is Retrying, not Timeout. Tokens no rule recognises are
// Waiting. Classify never fails.
package status
