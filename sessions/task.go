package sessions

import (
	"context"
	"errors"
	"sync/atomic"
)

// TaskState classifies a background task.
type TaskState int

const (
	TaskRunning TaskState = iota
	TaskCompleted
	TaskCanceled
	TaskFaulted
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskCanceled:
		return "canceled"
	case TaskFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Task supervises one background unit of work: a server or transport run
// loop. It exposes terminal state for liveness checks and one-shot fault
// consumption so a fault is reported exactly once.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}

	// err is written once before done closes and never mutated after.
	err error

	reported atomic.Bool
}

// Go spawns fn as a cancellable background task.
func Go(ctx context.Context, fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.err = fn(ctx)
	}()
	return t
}

// Done returns a channel closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// State reports the task's current classification. "Running" is the expected
// steady state; anything terminal obliges the caller to tear the session
// down.
func (t *Task) State() TaskState {
	select {
	case <-t.done:
	default:
		return TaskRunning
	}

	switch {
	case t.err == nil:
		return TaskCompleted
	case errors.Is(t.err, context.Canceled):
		return TaskCanceled
	default:
		return TaskFaulted
	}
}

// Err returns the task's terminal error, or nil while running.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Fault returns the root cause of a faulted task exactly once. Subsequent
// calls, and calls on non-faulted tasks, report false.
func (t *Task) Fault() (error, bool) {
	if t.State() != TaskFaulted {
		return nil, false
	}
	if !t.reported.CompareAndSwap(false, true) {
		return nil, false
	}
	return RootCause(t.err), true
}

// Cancel requests the task stop. It does not wait.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task ends or ctx is canceled.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RootCause unwraps err to its innermost cause so faults are not logged as
// opaque wrapper chains.
func RootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
