package taskq

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired marks a private target fetched without a password or
	// with a wrong one. It wraps the hoster error that caused it.
	ErrAuthRequired = errors.New("authentication required")
	// ErrInvalidTransition is returned for a command the task's current
	// state does not allow, such as resuming a task that was never paused.
	ErrInvalidTransition = errors.New("invalid task state transition")
	// ErrTaskNotFound is returned for an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrShutdown is returned by commands issued after Shutdown.
	ErrShutdown = errors.New("scheduler is shut down")
	// ErrInsufficientSpace fails a task whose remaining bytes do not fit on
	// the download filesystem.
	ErrInsufficientSpace = errors.New("insufficient disk space")

	errAttemptTimeout = errors.New("transfer attempt idle timeout")
	errPaused         = errors.New("task paused")
	errStopped        = errors.New("task stopped")
)

// TransferError is the reason of a task that failed after its retry
// budget was spent.
type TransferError struct {
	Attempts int
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func transitionError(op string, s State) error {
	return fmt.Errorf("%w: cannot %s a %s task", ErrInvalidTransition, op, s)
}
