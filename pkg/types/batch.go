package types

import (
	"encoding/json"
	"fmt"
)

// BatchStart announces that the executor is about to test Total accounts.
type BatchStart struct {
	Total int `json:"total"`
}

// BatchComplete announces that the executor has finished the batch. Results
// carries the executor's final view of every probe, merged like any other
// event before the session is closed.
type BatchComplete struct {
	SuccessCount int     `json:"success_count"`
	Total        int     `json:"total"`
	Results      []Event `json:"results,omitempty"`
}

// CommandKind names the payload a Command carries.
type CommandKind string

const (
	KindStart    CommandKind = "start"
	KindEvent    CommandKind = "event"
	KindComplete CommandKind = "complete"
)

// Command is one line of executor output: exactly one of Start, Event or
// Complete is set, matching Kind.
type Command struct {
	Kind     CommandKind
	Start    *BatchStart
	Event    *Event
	Complete *BatchComplete
}

// ParseCommand decodes one NDJSON line of executor output. The line carries a
// "type" discriminator ("start", "event" or "complete") alongside the fields
// of the matching payload. Lines without a type are treated as events.
func ParseCommand(line []byte) (Command, error) {
	var head struct {
		Type CommandKind `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return Command{}, fmt.Errorf("parse command: %w", err)
	}

	switch head.Type {
	case KindStart:
		var s BatchStart
		if err := json.Unmarshal(line, &s); err != nil {
			return Command{}, fmt.Errorf("parse start: %w", err)
		}
		return Command{Kind: KindStart, Start: &s}, nil
	case KindComplete:
		var c BatchComplete
		if err := json.Unmarshal(line, &c); err != nil {
			return Command{}, fmt.Errorf("parse complete: %w", err)
		}
		return Command{Kind: KindComplete, Complete: &c}, nil
	case KindEvent, "":
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return Command{}, fmt.Errorf("parse event: %w", err)
		}
		return Command{Kind: KindEvent, Event: &e}, nil
	default:
		return Command{}, fmt.Errorf("parse command: unknown type %q", head.Type)
	}
}
