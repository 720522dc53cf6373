package task

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Task is the capability every unit of work implements to be tracked by a
// Registry. Poll must never block and must keep returning the same terminal
// outcome once the task has completed or been cancelled.
type Task interface {
	ID() (ID, error)
	AssignID(id ID) error
	Poll() Outcome
	Cancel() error
	Pause() error
	Resume() error
}

// Inspector is implemented by tasks that can report their status without
// advancing it. The registry uses it for listings and pruning.
type Inspector interface {
	Status() Status
}

// Waiter is implemented by tasks that own background work. Wait returns false
// if ctx ends first.
type Waiter interface {
	Wait(ctx context.Context) bool
}

// Identity is embedded by task kinds to provide ID and AssignID.
type Identity struct {
	id atomic.Uint64
}

// ID returns ErrInvalidID until the task has been registered.
func (i *Identity) ID() (ID, error) {
	v := i.id.Load()
	if v == 0 {
		return 0, fmt.Errorf("%w: not registered", ErrInvalidID)
	}
	return ID(v), nil
}

// AssignID sets the identity once.
func (i *Identity) AssignID(id ID) error {
	if id == 0 {
		return fmt.Errorf("%w: zero", ErrInvalidID)
	}
	if !i.id.CompareAndSwap(0, uint64(id)) {
		return fmt.Errorf("%w: already assigned %d", ErrInvalidID, i.id.Load())
	}
	return nil
}
