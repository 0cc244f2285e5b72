package monitor

import (
	"context"
	"sync"
)

// ID identifies a transfer.
type ID uint64

// Monitor tracks the state of every transfer. Each call is atomic with
// respect to other calls for the same ID, and every implementation behaves
// the same no matter which execution unit invokes it.
type Monitor interface {
	// IsDone reports whether the transfer reached a terminal state.
	IsDone(id ID) bool

	// NotifyDone marks the transfer done. Idempotent.
	NotifyDone(id ID)

	// PollForResult blocks until the transfer is done or ctx ends. It returns
	// the recorded failure, nil on success, or ctx.Err() if the wait was
	// abandoned.
	PollForResult(ctx context.Context, id ID) error

	// NotifyError records err as the transfer's failure. The last writer wins.
	NotifyError(id ID, err error)

	// GetError returns the recorded failure without blocking.
	GetError(id ID) error

	// NotifyExpectedJobs sets the number of jobs that must complete. It must
	// happen before any job of the transfer reaches a worker.
	NotifyExpectedJobs(id ID, n int)

	// DecrementJobComplete decrements the remaining job count and returns the
	// new value.
	DecrementJobComplete(id ID) int
}

// state is the record kept for a single transfer.
type state struct {
	done     chan struct{}
	doneOnce sync.Once

	mu            sync.Mutex
	err           error
	jobsRemaining int
}

func newState() *state {
	return &state{done: make(chan struct{})}
}

func (s *state) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *state) setDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Table is the in-process transfer table. States are created lazily on first
// reference and kept for the lifetime of the table.
type Table struct {
	mu     sync.Mutex
	states map[ID]*state
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{states: make(map[ID]*state)}
}

func (t *Table) state(id ID) *state {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[id]
	if !ok {
		s = newState()
		t.states[id] = s
	}
	return s
}

// Len returns the number of transfers tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// IsDone implements Monitor.
func (t *Table) IsDone(id ID) bool {
	return t.state(id).isDone()
}

// NotifyDone implements Monitor.
func (t *Table) NotifyDone(id ID) {
	t.state(id).setDone()
}

// PollForResult implements Monitor.
func (t *Table) PollForResult(ctx context.Context, id ID) error {
	s := t.state(id)
	if !s.isDone() {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// NotifyError implements Monitor.
func (t *Table) NotifyError(id ID, err error) {
	s := t.state(id)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// GetError implements Monitor.
func (t *Table) GetError(id ID) error {
	s := t.state(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// NotifyExpectedJobs implements Monitor.
func (t *Table) NotifyExpectedJobs(id ID, n int) {
	s := t.state(id)
	s.mu.Lock()
	s.jobsRemaining = n
	s.mu.Unlock()
}

// DecrementJobComplete implements Monitor.
func (t *Table) DecrementJobComplete(id ID) int {
	s := t.state(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobsRemaining--
	return s.jobsRemaining
}

// doneChan exposes the completion channel so a remote waiter can block
// without holding up the host.
func (t *Table) doneChan(id ID) <-chan struct{} {
	return t.state(id).done
}
