package orch

import (
	"context"
	"sync"

	"github.com/dkeye/huddle/internal/domain"
)

// Outcome is Confirmed or Failed.
type Outcome interface {
	ID() string
	outcome()
}

// Confirmed carries the authoritative room. Room.ID never equals the local id.
type Confirmed struct {
	LocalID    string
	Room       *domain.Room
	Redirected bool
}

// Failed means the tentative state must be rolled back. Compensated is set
// when the operation had committed and was undone with a leave.
type Failed struct {
	LocalID     string
	Err         error
	Compensated bool
}

func (c Confirmed) ID() string { return c.LocalID }
func (f Failed) ID() string    { return f.LocalID }
func (Confirmed) outcome()     {}
func (Failed) outcome()        {}

// View is what a client may render for its current room: Tentative or Committed.
type View interface{ view() }

type Tentative struct {
	LocalID string
	Room    *domain.Room
}

type Committed struct {
	Room *domain.Room
}

func (Tentative) view() {}
func (Committed) view() {}

// Task is the background half of an Enter call.
type Task struct {
	LocalID string

	done      chan struct{}
	once      sync.Once
	outcome   Outcome
	cancel    context.CancelFunc
	onSettled func(Outcome)
}

func newTask(localID string, cancel context.CancelFunc, onSettled func(Outcome)) *Task {
	return &Task{LocalID: localID, done: make(chan struct{}), cancel: cancel, onSettled: onSettled}
}

// Done is closed once the outcome is known.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task settles or ctx is done. Giving up waiting does
// not cancel the task.
func (t *Task) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Task) Poll() (Outcome, bool) {
	select {
	case <-t.done:
		return t.outcome, true
	default:
		return nil, false
	}
}

// Cancel asks the task to stop. A task past its commit point still settles,
// with a compensated Failed outcome.
func (t *Task) Cancel() { t.cancel() }

func (t *Task) settle(o Outcome) {
	t.once.Do(func() {
		t.outcome = o
		close(t.done)
		t.cancel()
		if t.onSettled != nil {
			t.onSettled(o)
		}
	})
}
