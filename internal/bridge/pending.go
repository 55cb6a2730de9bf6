package bridge

import (
	"context"
	"sync"
	"time"
)

// Result is the terminal outcome of a correlated request: either a response
// payload or a protocol error. Exactly one Result is delivered per pending
// request.
type Result struct {
	OK          bool
	PayloadJSON string
	Err         *ErrorInfo
}

// PendingTable maps outstanding request ids to waiting callers. Each slot is
// resolved or cancelled exactly once; late or duplicate completions are
// silently ignored.
type PendingTable struct {
	mu    sync.Mutex
	slots map[string]chan Result
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{slots: make(map[string]chan Result)}
}

// Register creates a pending slot for id and returns the channel that will
// receive its Result. Returns ErrDuplicateID if id is already outstanding.
func (t *PendingTable) Register(id string) (<-chan Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.slots[id]; exists {
		return nil, ErrDuplicateID
	}
	ch := make(chan Result, 1)
	t.slots[id] = ch
	return ch, nil
}

// Complete resolves the slot for id if present. Returns false when no slot
// exists (late or duplicate response).
func (t *PendingTable) Complete(id string, r Result) bool {
	t.mu.Lock()
	ch, ok := t.slots[id]
	if ok {
		delete(t.slots, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

// Forget removes the slot for id without delivering a Result. Used by callers
// that stopped waiting (context cancelled, timeout).
func (t *PendingTable) Forget(id string) {
	t.mu.Lock()
	delete(t.slots, id)
	t.mu.Unlock()
}

// CancelAll resolves every remaining slot with a failure carrying reason and
// empties the table.
func (t *PendingTable) CancelAll(reason string) {
	t.mu.Lock()
	slots := t.slots
	t.slots = make(map[string]chan Result)
	t.mu.Unlock()

	for _, ch := range slots {
		ch <- Result{OK: false, Err: NewError(CodeUnavailable, reason)}
	}
}

// Len returns the number of outstanding requests.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Await blocks until ch delivers a Result, ctx is done, or timeout elapses.
// A timeout of zero waits only on ctx. The caller must Forget the id on the
// error paths so the slot does not dangle.
func Await(ctx context.Context, ch <-chan Result, timeout time.Duration) (Result, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer:
		return Result{}, ErrTimeout
	}
}
