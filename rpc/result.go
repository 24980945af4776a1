package rpc

import (
	"context"
	"sync"
)

// Result is the pending outcome of a call. It is completed exactly once, with
// either a value or an error.
type Result struct {
	once sync.Once
	done chan struct{}

	value interface{}
	err   error
}

func NewResult() *Result {
	return &Result{done: make(chan struct{})}
}

// Failed returns a Result that has already completed with err.
func Failed(err error) *Result {
	r := NewResult()
	r.Complete(nil, err)
	return r
}

// Resolved returns a Result that has already completed with value.
func Resolved(value interface{}) *Result {
	r := NewResult()
	r.Complete(value, nil)
	return r
}

// Complete settles the result. It reports false, and changes nothing, if the
// result was already completed.
func (r *Result) Complete(value interface{}, err error) bool {
	completed := false

	r.once.Do(func() {
		r.value = value
		r.err = err
		completed = true
		close(r.done)
	})

	return completed
}

// Done is closed once the result has completed.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the result completes or ctx is done.
func (r *Result) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-r.done:
		return r.value, r.err

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Value returns the completed value and error. It must only be called after
// Done is closed.
func (r *Result) Value() (interface{}, error) {
	<-r.done
	return r.value, r.err
}

// Err returns the error of a completed result, or nil while still pending.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err

	default:
		return nil
	}
}

// Then runs fn with the outcome once the result completes. fn runs on its own
// goroutine.
func (r *Result) Then(fn func(value interface{}, err error)) {
	go func() {
		<-r.done
		fn(r.value, r.err)
	}()
}
