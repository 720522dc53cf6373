package task

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubTask is a minimal task kind that is not a TimedTask and implements
// neither Inspector nor Waiter.
type stubTask struct {
	Identity
	polls int
}

func (s *stubTask) Poll() Outcome { s.polls++; return Pending(0.5) }
func (s *stubTask) Cancel() error { return nil }
func (s *stubTask) Pause() error { return nil }
func (s *stubTask) Resume() error { return nil }

type panicTask struct {
	Identity
}

func (p *panicTask) Poll() Outcome { panic("boom") }
func (p *panicTask) Cancel() error { return nil }
func (p *panicTask) Pause() error { return nil }
func (p *panicTask) Resume() error { return nil }

func register(t *testing.T, r *Registry, tk Task) ID {
	t.Helper()
	id, err := r.Register(tk)
	require.NoError(t, err)
	return id
}

func TestRegistryAssignsSequentialIDs(t *testing.T) {
	r := NewRegistry()
	for want := ID(1); want <= 10; want++ {
		tk := NewTimedTask(time.Second)
		id := register(t, r, tk)
		require.Equal(t, want, id)

		got, err := tk.ID()
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
	require.Equal(t, 10, r.Len())
}

func TestRegistriesDoNotShareCounters(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	require.Equal(t, ID(1), register(t, a, NewTimedTask(time.Second)))
	require.Equal(t, ID(2), register(t, a, NewTimedTask(time.Second)))
	require.Equal(t, ID(1), register(t, b, NewTimedTask(time.Second)))
}

func TestRegistryRejectsBadTasks(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(nil)
	require.ErrorIs(t, err, ErrNilTask)

	tk := NewTimedTask(time.Second)
	register(t, r, tk)
	_, err = r.Register(tk)
	require.ErrorIs(t, err, ErrInvalidID)
	require.Equal(t, 1, r.Len())
}

func TestRegistryUnknownIDIsNotFound(t *testing.T) {
	r := NewRegistry()
	register(t, r, NewTimedTask(time.Second))

	for _, id := range []ID{0, 2, 99} {
		_, err := r.Poll(id)
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, r.Pause(id), ErrNotFound)
		require.ErrorIs(t, r.Resume(id), ErrNotFound)
		require.ErrorIs(t, r.Cancel(id), ErrNotFound)
		require.ErrorIs(t, r.Remove(id), ErrNotFound)
		require.ErrorIs(t, r.Delete(id), ErrNotFound)
		_, err = r.AwaitCompletion(context.Background(), id)
		require.ErrorIs(t, err, ErrNotFound)
	}
}

func TestRegistryShortTaskCompletes(t *testing.T) {
	r := NewRegistry()
	id := register(t, r, NewTimedTask(100*time.Millisecond))

	out, err := r.Poll(id)
	require.NoError(t, err)
	require.Equal(t, Pending(0), out)

	time.Sleep(150 * time.Millisecond)
	out, err = r.Poll(id)
	require.NoError(t, err)
	require.Equal(t, Completed(), out)
}

func TestRegistryPauseAndResume(t *testing.T) {
	r := NewRegistry()
	id := register(t, r, NewTimedTask(500*time.Millisecond))

	out, err := r.Poll(id)
	require.NoError(t, err)
	require.Equal(t, Pending(0), out)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, r.Pause(id))

	paused, err := r.Poll(id)
	require.NoError(t, err)
	require.Equal(t, OutcomePaused, paused.Kind)
	require.Greater(t, paused.Progress, 0.0)
	require.Less(t, paused.Progress, 1.0)

	time.Sleep(100 * time.Millisecond)
	again, err := r.Poll(id)
	require.NoError(t, err)
	require.Equal(t, paused, again, "progress must stay frozen while paused")

	require.NoError(t, r.Resume(id))

	// the fixed timer still fires at the original 500ms mark
	time.Sleep(350 * time.Millisecond)
	out, err = r.Poll(id)
	require.NoError(t, err)
	require.Equal(t, Completed(), out)
}

func TestRegistryCancelQueuedTask(t *testing.T) {
	r := NewRegistry()
	id := register(t, r, NewTimedTask(time.Second))

	require.NoError(t, r.Cancel(id))
	out, err := r.Poll(id)
	require.NoError(t, err)
	require.Equal(t, OutcomeCancelled, out.Kind)
	require.Zero(t, out.Progress)
}

func TestRegistryTransitionConflicts(t *testing.T) {
	r := NewRegistry()

	paused := register(t, r, NewTimedTask(time.Hour))
	_, _ = r.Poll(paused)
	require.NoError(t, r.Pause(paused))
	err := r.Pause(paused)
	require.ErrorIs(t, err, ErrAlreadyPaused)
	require.True(t, IsConflict(err))

	queued := register(t, r, NewTimedTask(time.Hour))
	err = r.Resume(queued)
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, IsConflict(err))

	done := register(t, r, NewTimedTask(0))
	out, err := r.Poll(done)
	require.NoError(t, err)
	require.Equal(t, Completed(), out)
	require.ErrorIs(t, r.Cancel(done), ErrAlreadyCompleted)

	require.Equal(t, 2, r.CancelAll())
}

func TestRegistryTerminalOutcomesAreIdempotent(t *testing.T) {
	r := NewRegistry()
	done := register(t, r, NewTimedTask(0))
	gone := register(t, r, NewTimedTask(time.Hour))
	require.NoError(t, r.Cancel(gone))

	for i := 0; i < 10; i++ {
		out, err := r.Poll(done)
		require.NoError(t, err)
		require.Equal(t, Completed(), out)

		out, err = r.Poll(gone)
		require.NoError(t, err)
		require.Equal(t, Cancelled(0), out)
	}
}

func TestRegistryConcurrentPollsAreConsistent(t *testing.T) {
	r := NewRegistry()
	id := register(t, r, NewTimedTask(time.Hour))
	t.Cleanup(func() { _ = r.Cancel(id) })

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := -1.0
			for i := 0; i < 200; i++ {
				out, err := r.Poll(id)
				if err != nil {
					errs <- err
					return
				}
				if out.Progress < 0 || out.Progress > 1 || out.Progress < last {
					errs <- errors.New("inconsistent progress read")
					return
				}
				last = out.Progress
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestRegistryRemovalPolicies(t *testing.T) {
	t.Run("cancel keeps a terminal record", func(t *testing.T) {
		r := NewRegistry()
		require.Equal(t, RemoveCancel, r.RemovalPolicy())
		id := register(t, r, NewTimedTask(time.Hour))
		_, _ = r.Poll(id)

		require.NoError(t, r.Remove(id))
		out, err := r.Poll(id)
		require.NoError(t, err)
		require.Equal(t, OutcomeCancelled, out.Kind)
		require.ErrorIs(t, r.Remove(id), ErrAlreadyCancelled)
		require.Equal(t, 1, r.Len())
	})

	t.Run("delete drops the mapping", func(t *testing.T) {
		r := NewRegistry(WithRemovalPolicy(RemoveDelete))
		tk := NewTimedTask(time.Hour)
		id := register(t, r, tk)
		_, _ = r.Poll(id)
		t.Cleanup(func() { _ = tk.Cancel() })

		require.NoError(t, r.Remove(id))
		_, err := r.Poll(id)
		require.ErrorIs(t, err, ErrNotFound)
		require.Zero(t, r.Len())

		next := register(t, r, NewTimedTask(time.Hour))
		require.Equal(t, id+1, next, "identities are never reused")
	})
}

func TestParseRemovalPolicy(t *testing.T) {
	p, err := ParseRemovalPolicy(" DELETE ")
	require.NoError(t, err)
	require.Equal(t, RemoveDelete, p)
	require.Equal(t, "delete", p.String())

	_, err = ParseRemovalPolicy("archive")
	require.Error(t, err)
}

func TestAwaitCompletionSignalsOnce(t *testing.T) {
	r := NewRegistry(WithObserveInterval(5 * time.Millisecond))
	id := register(t, r, NewTimedTask(50*time.Millisecond))

	ch, err := r.AwaitCompletion(context.Background(), id)
	require.NoError(t, err)

	select {
	case out, ok := <-ch:
		require.True(t, ok)
		require.Equal(t, Completed(), out)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not complete in time")
	}
	_, ok := <-ch
	require.False(t, ok, "channel is closed after the single signal")
}

func TestAwaitCompletionReportsCancel(t *testing.T) {
	r := NewRegistry(WithObserveInterval(5 * time.Millisecond))
	id := register(t, r, NewTimedTask(time.Hour))

	ch, err := r.AwaitCompletion(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, r.Cancel(id))

	select {
	case out := <-ch:
		require.Equal(t, OutcomeCancelled, out.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not see cancellation")
	}
}

func TestAwaitCompletionStopsWithContext(t *testing.T) {
	r := NewRegistry(WithObserveInterval(5 * time.Millisecond))
	id := register(t, r, NewTimedTask(time.Hour))
	t.Cleanup(func() { _ = r.Cancel(id) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ch, err := r.AwaitCompletion(ctx, id)
	require.NoError(t, err)

	select {
	case _, ok := <-ch:
		require.False(t, ok, "no outcome is sent when the caller gives up")
	case <-time.After(2 * time.Second):
		t.Fatal("observer ignored context")
	}
}

func TestRegistryPoisonedEntryIsIsolated(t *testing.T) {
	r := NewRegistry()
	bad := register(t, r, &panicTask{})
	good := register(t, r, &stubTask{})

	_, err := r.Poll(bad)
	require.ErrorIs(t, err, ErrPoisoned)
	require.ErrorIs(t, r.Cancel(bad), ErrPoisoned, "poisoned entries reject every call")

	out, err := r.Poll(good)
	require.NoError(t, err)
	require.Equal(t, Pending(0.5), out)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	require.True(t, snap[0].Poisoned)
	require.Equal(t, "task.panicTask", snap[0].Kind)
}

func TestRegistryHoldsHeterogeneousTasks(t *testing.T) {
	r := NewRegistry()
	stub := &stubTask{}
	timed := NewTimedTask(time.Hour)
	register(t, r, stub)
	register(t, r, timed)
	t.Cleanup(func() { _ = timed.Cancel() })

	for _, id := range r.IDs() {
		_, err := r.Poll(id)
		require.NoError(t, err)
	}
	require.Equal(t, 1, stub.polls)

	snap := r.Snapshot()
	require.Equal(t, Status(""), snap[0].Status, "stub does not implement Inspector")
	require.Equal(t, StatusRunning, snap[1].Status)
}

func TestRegistryPruneDropsTerminalEntries(t *testing.T) {
	r := NewRegistry()
	done := register(t, r, NewTimedTask(0))
	_, _ = r.Poll(done)
	cancelled := register(t, r, NewTimedTask(time.Hour))
	require.NoError(t, r.Cancel(cancelled))
	live := register(t, r, NewTimedTask(time.Hour))
	register(t, r, &stubTask{})
	t.Cleanup(func() { _ = r.Cancel(live) })

	require.Equal(t, 2, r.Prune())
	require.Equal(t, []ID{live, live + 1}, r.IDs())
}

func TestRegistryWaitAll(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		id := register(t, r, NewTimedTask(20*time.Millisecond))
		_, _ = r.Poll(id)
	}
	register(t, r, &stubTask{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(t, r.WaitAll(ctx))

	long := register(t, r, NewTimedTask(time.Hour))
	_, _ = r.Poll(long)
	short, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	require.False(t, r.WaitAll(short))
	require.NoError(t, r.Cancel(long))
}

func TestRegistryWriteReport(t *testing.T) {
	r := NewRegistry()
	id := register(t, r, NewTimedTask(0))
	_, _ = r.Poll(id)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, r.WriteReport(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var rep Report
	require.NoError(t, json.Unmarshal(b, &rep))
	require.Len(t, rep.Tasks, 1)
	require.Equal(t, StatusCompleted, rep.Tasks[0].Status)
	require.Equal(t, "task.TimedTask", rep.Tasks[0].Kind)
}
