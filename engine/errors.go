package engine

import (
	"errors"
)

var (
	// ErrClosed wakes callers parked on a channel that went away. The
	// client hub reconnects; synchronous callers see this error.
	ErrClosed = errors.New("connection closed")

	// ErrTimeout is a synchronous call deadline expiry.
	ErrTimeout = errors.New("remote call timeout")

	// ErrProtocol marks a violation by the remote (null argument, unknown
	// event name). The connection is kept; the offending request gets no
	// reply.
	ErrProtocol = errors.New("protocol violation")

	// ErrAssertion marks a broken internal invariant, for example a dirty
	// bit CAS failing after the entry was already presented to a consumer.
	// Fatal to the owning session.
	ErrAssertion = errors.New("assertion violation")
)
