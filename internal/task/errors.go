package task

import "errors"

var (
	ErrNotFound         = errors.New("task not found")
	ErrAlreadyRunning   = errors.New("task already running")
	ErrAlreadyPaused    = errors.New("task already paused")
	ErrAlreadyCancelled = errors.New("task already cancelled")
	ErrAlreadyCompleted = errors.New("task already completed")
	ErrInvalidID        = errors.New("invalid task id")
	ErrNilTask          = errors.New("nil task")
	ErrPoisoned         = errors.New("task poisoned")
)

// IsConflict reports whether err rejects a transition because of the task's
// current status.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyRunning) ||
		errors.Is(err, ErrAlreadyPaused) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrAlreadyCompleted)
}
