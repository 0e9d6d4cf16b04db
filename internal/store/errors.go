package store

import "errors"

// Sentinel errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the request id is unknown (never created or already evicted).
	ErrNotFound = errors.New("session not found")

	// ErrInvalidState indicates the record cannot accept the operation in its current state,
	// e.g. an answer while the pipeline is not waiting for input.
	ErrInvalidState = errors.New("invalid state")

	// ErrFinalized indicates a mutation of a completed or failed record.
	ErrFinalized = errors.New("record already finalized")

	// ErrInvariant indicates a mutation that would break a record invariant:
	// illegal status transition, decreasing progress, rewritten history, or a
	// second end timestamp.
	ErrInvariant = errors.New("record invariant violated")

	// ErrEmptyTopic is returned by Create for a blank topic.
	ErrEmptyTopic = errors.New("topic must not be empty")
)
