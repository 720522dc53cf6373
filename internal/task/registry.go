package task

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// RemovalPolicy selects what Registry.Remove does with an entry.
type RemovalPolicy int

const (
	// RemoveCancel cancels the task and keeps its terminal record in the registry.
	RemoveCancel RemovalPolicy = iota
	// RemoveDelete drops the mapping outright without cancelling the task.
	RemoveDelete
)

func (p RemovalPolicy) String() string {
	if p == RemoveDelete {
		return "delete"
	}
	return "cancel"
}

func ParseRemovalPolicy(raw string) (RemovalPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "cancel":
		return RemoveCancel, nil
	case "delete":
		return RemoveDelete, nil
	}
	return RemoveCancel, fmt.Errorf("unknown removal policy %q", raw)
}

const defaultObserveInterval = 10 * time.Millisecond

type RegistryOption func(*Registry)

func WithRemovalPolicy(p RemovalPolicy) RegistryOption {
	return func(r *Registry) { r.removal = p }
}

// WithObserveInterval sets how often AwaitCompletion observers poll.
func WithObserveInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

type entry struct {
	mu       sync.Mutex
	task     Task
	poisoned bool
}

// Registry maps identities to tasks. The map lock is held only for lookups and
// mutations of the map; lifecycle calls run under the entry's own lock.
type Registry struct {
	mu       sync.RWMutex
	entries  map[ID]*entry
	nextID   atomic.Uint64
	removal  RemovalPolicy
	interval time.Duration
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:  make(map[ID]*entry),
		removal:  RemoveCancel,
		interval: defaultObserveInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) RemovalPolicy() RemovalPolicy { return r.removal }

// Register assigns the next identity to t and starts tracking it.
// An identity consumed by a rejected task is not handed out again.
func (r *Registry) Register(t Task) (ID, error) {
	if t == nil {
		return 0, ErrNilTask
	}
	id := ID(r.nextID.Add(1))
	if err := t.AssignID(id); err != nil {
		return 0, fmt.Errorf("register: %w", err)
	}

	r.mu.Lock()
	r.entries[id] = &entry{task: t}
	r.mu.Unlock()

	log.Debug().Uint64("task_id", uint64(id)).Str("kind", fmt.Sprintf("%T", t)).Msg("task registered")
	return id, nil
}

func (r *Registry) Poll(id ID) (Outcome, error) {
	var out Outcome
	err := r.do(id, "poll", func(t Task) error {
		out = t.Poll()
		return nil
	})
	return out, err
}

func (r *Registry) Pause(id ID) error  { return r.do(id, "pause", Task.Pause) }
func (r *Registry) Resume(id ID) error { return r.do(id, "resume", Task.Resume) }
func (r *Registry) Cancel(id ID) error { return r.do(id, "cancel", Task.Cancel) }

// Delete removes the mapping for id. The task itself is left alone.
func (r *Registry) Delete(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return ErrNotFound
	}
	delete(r.entries, id)
	log.Debug().Uint64("task_id", uint64(id)).Msg("task deleted")
	return nil
}

// Remove applies the registry's RemovalPolicy to id.
func (r *Registry) Remove(id ID) error {
	if r.removal == RemoveDelete {
		return r.Delete(id)
	}
	return r.Cancel(id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IDs returns the tracked identities in registration order.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	ids := make([]ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Summary describes an entry without polling it.
type Summary struct {
	ID       ID     `json:"id"`
	Kind     string `json:"kind"`
	Status   Status `json:"status,omitempty"`
	Poisoned bool   `json:"poisoned,omitempty"`
}

// Snapshot lists every entry. Status is empty for tasks that do not implement
// Inspector.
func (r *Registry) Snapshot() []Summary {
	ids := r.IDs()
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		e, err := r.lookup(id)
		if err != nil {
			continue
		}
		e.mu.Lock()
		s := Summary{ID: id, Kind: kindOf(e.task), Poisoned: e.poisoned}
		if in, ok := e.task.(Inspector); ok && !e.poisoned {
			s.Status = in.Status()
		}
		e.mu.Unlock()
		out = append(out, s)
	}
	return out
}

// CancelAll cancels every entry that is not already finished and returns how
// many were cancelled.
func (r *Registry) CancelAll() int {
	n := 0
	for _, id := range r.IDs() {
		if err := r.Cancel(id); err == nil {
			n++
		}
	}
	log.Debug().Int("cancelled", n).Msg("cancel all")
	return n
}

// Prune drops entries whose task reports a terminal status. Tasks without
// Inspector are kept.
func (r *Registry) Prune() int {
	removed := 0
	for _, s := range r.Snapshot() {
		if !s.Status.Terminal() {
			continue
		}
		if err := r.Delete(s.ID); err == nil {
			removed++
		}
	}
	return removed
}

// WaitAll blocks until every task implementing Waiter has finished its
// background work, or ctx is done. Returns true if all finished.
func (r *Registry) WaitAll(ctx context.Context) bool {
	r.mu.RLock()
	waiters := make([]Waiter, 0, len(r.entries))
	for _, e := range r.entries {
		if w, ok := e.task.(Waiter); ok {
			waiters = append(waiters, w)
		}
	}
	r.mu.RUnlock()

	for _, w := range waiters {
		if !w.Wait(ctx) {
			return false
		}
	}
	return true
}

func (r *Registry) lookup(id ID) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// do runs fn against the task under its entry lock. A panic in fn poisons the
// entry: this call and every later one on it fail with ErrPoisoned.
func (r *Registry) do(id ID, op string, fn func(Task) error) (err error) {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.poisoned {
		return ErrPoisoned
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.poisoned = true
			log.Error().Uint64("task_id", uint64(id)).Str("op", op).Interface("panic", rec).Msg("task panicked")
			err = fmt.Errorf("%w: %s panicked: %v", ErrPoisoned, op, rec)
		}
	}()
	return fn(e.task)
}

func kindOf(t Task) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", t), "*")
}
