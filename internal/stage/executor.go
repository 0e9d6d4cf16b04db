package stage

import (
	"context"
	"errors"
)

// Handle identifies an execution context opened on an Executor.
type Handle struct {
	UserID    string
	SessionID string
}

// EmitFunc receives events in emission order. A non-nil error aborts the drive.
type EmitFunc func(Event) error

// Executor runs the processing stages for one unit of work.
//
// Drive feeds message into the execution context and calls emit for every
// event until the stages either finish the turn or emit an InputRequest.
// Drive returns after an InputRequest; the caller resumes the same handle
// with the human's answer as the next message.
type Executor interface {
	Open(ctx context.Context, userID string) (Handle, error)
	Drive(ctx context.Context, h Handle, message string, emit EmitFunc) error
}

// Releaser is implemented by executors that hold per-handle resources.
type Releaser interface {
	Release(h Handle)
}

// ErrUnknownHandle is returned when a handle was never opened or was released.
var ErrUnknownHandle = errors.New("unknown execution handle")
