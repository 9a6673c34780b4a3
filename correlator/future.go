package correlator

import (
	"context"
	"encoding/json"
	"sync"
)

// Future is the pending result of an issued call. It is settled exactly once
// by the Correlator; later settlement attempts are ignored.
type Future struct {
	ch     chan struct{} // closed when settled
	result json.RawMessage
	err    error

	once sync.Once
	mu   sync.Mutex
}

func newFuture() *Future {
	return &Future{ch: make(chan struct{})}
}

// settle completes the future. Returns false if it was already settled.
func (f *Future) settle(result json.RawMessage, err error) bool {
	settled := false
	f.once.Do(func() {
		f.mu.Lock()
		f.result, f.err = result, err
		f.mu.Unlock()
		close(f.ch)
		settled = true
	})
	return settled
}

// Done returns a channel that is closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.ch
}

// Wait blocks until the future settles or ctx is done. A done ctx only stops
// the wait; the call itself keeps its own deadline.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.ch:
		return f.load()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome and whether the future has settled.
func (f *Future) Result() (json.RawMessage, bool, error) {
	select {
	case <-f.ch:
		r, err := f.load()
		return r, true, err
	default:
		return nil, false, nil
	}
}

// OnDone runs cb in a goroutine once the future settles.
func (f *Future) OnDone(cb func(json.RawMessage, error)) {
	go func() {
		<-f.ch
		cb(f.load())
	}()
}

func (f *Future) load() (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// Rejected returns an already settled future carrying err.
func Rejected(err error) *Future {
	f := newFuture()
	f.settle(nil, err)
	return f
}
