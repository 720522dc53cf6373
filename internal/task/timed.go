package task

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TimerPolicy decides how the background timer of a TimedTask treats pauses.
type TimerPolicy int

const (
	// TimerFixed sleeps for the configured duration once, ignoring pauses.
	// Displayed progress and real completion time diverge after a pause.
	TimerFixed TimerPolicy = iota
	// TimerExtended waits out pauses and re-arms for the remaining unpaused time.
	TimerExtended
)

func (p TimerPolicy) String() string {
	if p == TimerExtended {
		return "extended"
	}
	return "fixed"
}

func ParseTimerPolicy(raw string) (TimerPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "fixed":
		return TimerFixed, nil
	case "extended":
		return TimerExtended, nil
	}
	return TimerFixed, fmt.Errorf("unknown timer policy %q", raw)
}

type TimedOption func(*TimedTask)

// WithClock replaces time.Now for progress accounting. The background timer
// always uses real time.
func WithClock(now func() time.Time) TimedOption {
	return func(t *TimedTask) { t.now = now }
}

func WithTimerPolicy(p TimerPolicy) TimedOption {
	return func(t *TimedTask) { t.policy = p }
}

// WithContext sets the parent of the background timer's context. Cancelling it
// stops the timer without changing the task's status.
func WithContext(ctx context.Context) TimedOption {
	return func(t *TimedTask) {
		if ctx != nil {
			t.parent = ctx
		}
	}
}

func WithLabel(label string) TimedOption {
	return func(t *TimedTask) { t.label = label }
}

// TimedTask is the reference Task: its work is to finish after a fixed
// duration. The first Poll starts a background timer; progress is computed
// from elapsed running time and frozen while paused.
type TimedTask struct {
	Identity

	label  string
	total  time.Duration
	policy TimerPolicy
	now    func() time.Time
	parent context.Context

	mu       sync.Mutex
	status   Status
	start    time.Time
	paused   time.Duration // running time banked by pauses
	progress float64       // last computed value
	spawned  bool
	stop     context.CancelFunc
	done     chan struct{}
	wake     chan struct{}
}

func NewTimedTask(total time.Duration, opts ...TimedOption) *TimedTask {
	t := &TimedTask{
		total:  total,
		now:    time.Now,
		parent: context.Background(),
		status: StatusQueued,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TimedTask) Label() string { return t.label }
func (t *TimedTask) Duration() time.Duration { return t.total }

func (t *TimedTask) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *TimedTask) Poll() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.status {
	case StatusQueued:
		if t.total <= 0 {
			t.finishLocked(StatusCompleted)
			return Completed()
		}
		t.status = StatusRunning
		t.start = t.now()
		t.spawnLocked()
		return Pending(0)
	case StatusRunning:
		t.progress = ratio(t.elapsedLocked(), t.total)
		if t.progress >= 1 {
			t.finishLocked(StatusCompleted)
			return Completed()
		}
		return Pending(t.progress)
	case StatusPaused:
		t.progress = ratio(t.paused, t.total)
		return Paused(t.progress)
	case StatusCompleted:
		return Completed()
	default:
		return Cancelled(t.progress)
	}
}

func (t *TimedTask) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.status {
	case StatusQueued:
		t.status = StatusPaused
	case StatusRunning:
		t.paused += t.now().Sub(t.start)
		t.progress = ratio(t.paused, t.total)
		t.status = StatusPaused
	case StatusPaused:
		return ErrAlreadyPaused
	default:
		return t.status.terminalErr()
	}
	log.Debug().Uint64("task_id", t.id.Load()).Dur("banked", t.paused).Msg("task paused")
	return nil
}

func (t *TimedTask) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.status {
	case StatusQueued:
		return ErrNotFound
	case StatusRunning:
		return ErrAlreadyRunning
	case StatusPaused:
		t.start = t.now()
		t.status = StatusRunning
		if !t.spawned {
			// paused before the first poll
			t.spawnLocked()
		} else {
			select {
			case t.wake <- struct{}{}:
			default:
			}
		}
		log.Debug().Uint64("task_id", t.id.Load()).Msg("task resumed")
		return nil
	default:
		return t.status.terminalErr()
	}
}

func (t *TimedTask) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.status {
	case StatusQueued, StatusPaused:
		t.finishLocked(StatusCancelled)
	case StatusRunning:
		t.progress = ratio(t.elapsedLocked(), t.total)
		t.finishLocked(StatusCancelled)
	default:
		return t.status.terminalErr()
	}
	log.Debug().Uint64("task_id", t.id.Load()).Float64("progress", t.progress).Msg("task cancelled")
	return nil
}

// Wait blocks until the background timer has exited. A task that never
// started has nothing to wait for.
func (t *TimedTask) Wait(ctx context.Context) bool {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *TimedTask) elapsedLocked() time.Duration {
	return t.paused + t.now().Sub(t.start)
}

func (t *TimedTask) finishLocked(s Status) {
	t.status = s
	if s == StatusCompleted {
		t.progress = 1
	}
	if t.stop != nil {
		t.stop()
	}
}

func (t *TimedTask) spawnLocked() {
	ctx, stop := context.WithCancel(t.parent)
	t.stop = stop
	t.done = make(chan struct{})
	t.spawned = true
	go t.run(ctx, t.total, t.done)
}

func (t *TimedTask) run(ctx context.Context, wait time.Duration, done chan<- struct{}) {
	defer close(done)
	log.Debug().Uint64("task_id", t.id.Load()).Dur("duration", wait).Str("policy", t.policy.String()).Msg("timer started")

	for {
		if !sleep(ctx, wait) {
			log.Debug().Uint64("task_id", t.id.Load()).Msg("timer stopped")
			return
		}
		again, parked := t.expire()
		for parked {
			select {
			case <-ctx.Done():
				return
			case <-t.wake:
			}
			again, parked = t.expire()
		}
		if again <= 0 {
			return
		}
		wait = again
	}
}

// expire is called by the timer goroutine when its sleep ends. It returns the
// next sleep (zero to exit) and whether the goroutine should park until resume.
func (t *TimedTask) expire() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.status {
	case StatusRunning:
		if t.policy == TimerFixed {
			t.finishLocked(StatusCompleted)
			return 0, false
		}
		remaining := t.total - t.elapsedLocked()
		if remaining <= 0 {
			t.finishLocked(StatusCompleted)
			return 0, false
		}
		return remaining, false
	case StatusPaused:
		// fixed timers leave a paused task paused and exit
		return 0, t.policy == TimerExtended
	default:
		return 0, false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func ratio(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	return clamp(float64(elapsed) / float64(total))
}
