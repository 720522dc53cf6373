package task

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// terminalErr returns the error a lifecycle call gets from a finished task.
func (s Status) terminalErr() error {
	if s == StatusCompleted {
		return ErrAlreadyCompleted
	}
	return ErrAlreadyCancelled
}

type OutcomeKind string

const (
	OutcomePending   OutcomeKind = "pending"
	OutcomePaused    OutcomeKind = "paused"
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Outcome is the snapshot returned by a poll. Progress is always in [0, 1].
type Outcome struct {
	Kind     OutcomeKind `json:"outcome"`
	Progress float64     `json:"progress"`
}

func Pending(progress float64) Outcome {
	return Outcome{Kind: OutcomePending, Progress: clamp(progress)}
}

func Paused(progress float64) Outcome {
	return Outcome{Kind: OutcomePaused, Progress: clamp(progress)}
}

func Completed() Outcome {
	return Outcome{Kind: OutcomeCompleted, Progress: 1}
}

// Cancelled carries the progress the task had reached when it was cancelled.
func Cancelled(progress float64) Outcome {
	return Outcome{Kind: OutcomeCancelled, Progress: clamp(progress)}
}

func (o Outcome) Terminal() bool {
	return o.Kind == OutcomeCompleted || o.Kind == OutcomeCancelled
}

func (o Outcome) String() string {
	if o.Kind == OutcomePending || o.Kind == OutcomePaused {
		return fmt.Sprintf("%s(%.3f)", o.Kind, o.Progress)
	}
	return string(o.Kind)
}

// ID identifies a registered task. Zero is never assigned.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID converts an external identity (path parameter, form value) into an ID.
func ParseID(raw string) (ID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return ID(v), nil
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
