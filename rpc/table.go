package rpc

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type pendingCall struct {
	result *Result
	timer  *time.Timer
}

// Table maps the ids of in-flight calls to their pending results.
type Table struct {
	mu      sync.Mutex
	pending map[int32]*pendingCall

	log *zap.Logger
}

func NewTable(log *zap.Logger) *Table {
	if log == nil {
		log = zap.NewNop()
	}

	return &Table{
		pending: make(map[int32]*pendingCall),
		log:     log,
	}
}

// Add tracks result under id. When timeout is positive the result fails with
// ErrTimeout unless it is resolved within timeout.
func (t *Table) Add(id int32, result *Result, timeout time.Duration) {
	pc := &pendingCall{result: result}

	t.mu.Lock()
	if _, ok := t.pending[id]; ok {
		t.log.Warn("Request id reused while still in flight", zap.Int32("id", id))
	}
	t.pending[id] = pc

	if timeout > 0 {
		pc.timer = time.AfterFunc(timeout, func() {
			t.expire(id, pc, timeout)
		})
	}
	t.mu.Unlock()
}

// Resolve completes and forgets the call with the given id. It reports false
// if no such call is pending: it was already resolved, it timed out, or it
// never existed.
func (t *Table) Resolve(id int32, value interface{}, err error) bool {
	t.mu.Lock()
	pc, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		t.log.Debug("Response for unknown request id, timed out?", zap.Int32("id", id))
		return false
	}

	if pc.timer != nil {
		pc.timer.Stop()
	}

	pc.result.Complete(value, err)
	return true
}

// Remove forgets the call with the given id without completing it.
func (t *Table) Remove(id int32) {
	t.mu.Lock()
	pc, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if ok && pc.timer != nil {
		pc.timer.Stop()
	}
}

// FailAll completes every pending call with err and returns how many there were.
func (t *Table) FailAll(err error) int {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[int32]*pendingCall)
	t.mu.Unlock()

	for _, pc := range pending {
		if pc.timer != nil {
			pc.timer.Stop()
		}

		pc.result.Complete(nil, err)
	}

	return len(pending)
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pending)
}

func (t *Table) expire(id int32, pc *pendingCall, timeout time.Duration) {
	t.mu.Lock()
	current, ok := t.pending[id]
	// The id may have been resolved and handed out again since the timer was armed.
	if !ok || current != pc {
		t.mu.Unlock()
		t.log.Debug("Timer fired for a request that is no longer pending", zap.Int32("id", id))
		return
	}
	delete(t.pending, id)
	t.mu.Unlock()

	t.log.Debug("Request timed out", zap.Int32("id", id), zap.Duration("timeout", timeout))
	pc.result.Complete(nil, fmt.Errorf("request %d after %s: %w", id, timeout, ErrTimeout))
}
