package pipeline

import "errors"

var (
	// ErrOverloaded is returned by Submit when every worker and backlog slot is taken.
	ErrOverloaded = errors.New("pipeline capacity exhausted")

	// ErrShuttingDown is returned by Submit once Shutdown has started.
	ErrShuttingDown = errors.New("pipeline manager is shutting down")

	// ErrCancelled is the cancellation cause of an explicitly cancelled record.
	ErrCancelled = errors.New("pipeline cancelled")

	// ErrShutdown is the cancellation cause for records still running when the drain deadline passed.
	ErrShutdown = errors.New("server shutting down")

	// ErrInputTimeout fails a record that waited too long for an answer.
	ErrInputTimeout = errors.New("timed out waiting for input")

	// ErrUnexpectedEvent is returned by Apply for events the record cannot accept.
	ErrUnexpectedEvent = errors.New("unexpected stage event")
)
