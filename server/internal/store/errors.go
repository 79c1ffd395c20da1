package store

import "errors"

var (
	// ErrMalformedEvent is returned for an event that carries no identity.
	ErrMalformedEvent = errors.New("store: event has no identity")

	// ErrNoActiveSession is returned when a write arrives before any batch start.
	ErrNoActiveSession = errors.New("store: no active session")

	// ErrSessionClosed is returned when an event arrives for a terminal session.
	ErrSessionClosed = errors.New("store: session is terminal")

	// ErrInvalidTotal is returned by Start for a negative total.
	ErrInvalidTotal = errors.New("store: total must not be negative")
)
