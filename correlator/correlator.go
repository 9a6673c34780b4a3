// Package correlator matches outstanding calls to their responses by ID.
//
// Every issued call gets a fresh ID, a pending entry and a timer. The entry is
// removed exactly once, by whichever comes first:
//
//	Resolve (matching response) ──┐
//	timer elapses (TIMEOUT) ──────┤
//	ctx done (ABORTED) ───────────┼──→ settle: stop timer, drop entry, settle Future
//	send fails (SEND_ERROR) ──────┤
//	DestroyAll (reason) ──────────┘
//
// Anything arriving for an ID that is no longer pending is ignored.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mineclover/iframe-remote/message"
)

// DefaultTimeout applies when neither the correlator nor the call sets one.
const DefaultTimeout = 5000 * time.Millisecond

// Observer is told about every registered call. Implementations must not block.
type Observer interface {
	CallIssued()
	CallSettled(code Code, elapsed time.Duration) // code is "" on success
}

// CallOptions override correlator defaults for a single call.
type CallOptions struct {
	Timeout time.Duration // <= 0 uses the correlator default
}

type call struct {
	id      string
	future  *Future
	timer   clockwork.Timer
	done    chan struct{} // closed on settle, releases the watcher
	started time.Time
}

// Correlator owns one table of pending calls. The messenger and the RPC
// engine each hold their own.
type Correlator struct {
	timeout  time.Duration
	clock    clockwork.Clock
	newID    func() string
	observer Observer

	mu        sync.Mutex
	pending   map[string]*call
	destroyed error
}

type Option func(*Correlator)

func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock replaces the real clock, e.g. with clockwork.NewFakeClock() in tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Correlator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(c *Correlator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Correlator) { c.observer = o }
}

func New(opts ...Option) *Correlator {
	c := &Correlator{
		timeout: DefaultTimeout,
		clock:   clockwork.NewRealClock(),
		newID:   message.NewID,
		pending: make(map[string]*call),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the default per-call timeout.
func (c *Correlator) Timeout() time.Duration {
	return c.timeout
}

// Issue registers a pending call and then sends it with send(id). The entry
// exists before send runs, so a response racing the send is still matched.
// A ctx that is already done rejects immediately with ABORTED.
func (c *Correlator) Issue(ctx context.Context, send func(id string) error, opts CallOptions) *Future {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	c.mu.Lock()
	if c.destroyed != nil {
		err := c.destroyed
		c.mu.Unlock()
		return Rejected(err)
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return Rejected(abortError(err))
	}
	id := c.newID()
	for c.pending[id] != nil {
		id = c.newID()
	}
	cl := &call{
		id:      id,
		future:  newFuture(),
		timer:   c.clock.NewTimer(timeout),
		done:    make(chan struct{}),
		started: c.clock.Now(),
	}
	c.pending[id] = cl
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.CallIssued()
	}
	go c.watch(ctx, cl, timeout)

	if err := send(id); err != nil {
		c.settle(id, nil, NewError(CodeSendError, "Send failed: "+err.Error(), err))
	}
	return cl.future
}

// watch turns the timer or ctx into a settlement. It exits as soon as the
// call settles any other way.
func (c *Correlator) watch(ctx context.Context, cl *call, timeout time.Duration) {
	select {
	case <-cl.timer.Chan():
		c.settle(cl.id, nil, timeoutError(timeout.Milliseconds()))
	case <-ctx.Done():
		c.settle(cl.id, nil, abortError(ctx.Err()))
	case <-cl.done:
	}
}

// Resolve settles the call with the given ID from a response. It returns
// false, and does nothing, if the ID is not pending.
func (c *Correlator) Resolve(id string, success bool, result json.RawMessage, errMsg string) bool {
	if success {
		return c.settle(id, result, nil)
	}
	if errMsg == "" {
		errMsg = "Unknown error"
	}
	return c.settle(id, nil, NewError(CodeRemoteError, errMsg, nil))
}

func (c *Correlator) settle(id string, result json.RawMessage, err error) bool {
	c.mu.Lock()
	cl, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.finish(cl, result, err)
	return true
}

func (c *Correlator) finish(cl *call, result json.RawMessage, err error) {
	cl.timer.Stop()
	close(cl.done)
	cl.future.settle(result, err)
	if c.observer != nil {
		c.observer.CallSettled(CodeOf(err), c.clock.Since(cl.started))
	}
}

// DestroyAll rejects every pending call with reason before returning, and
// makes later Issue calls reject with it too. A nil reason means ErrDestroyed.
func (c *Correlator) DestroyAll(reason error) {
	if reason == nil {
		reason = ErrDestroyed
	}
	c.mu.Lock()
	if c.destroyed == nil {
		c.destroyed = reason
	}
	calls := make([]*call, 0, len(c.pending))
	for id, cl := range c.pending {
		calls = append(calls, cl)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, cl := range calls {
		c.finish(cl, nil, reason)
	}
}

// Len returns the number of pending calls.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func abortError(cause error) *Error {
	return NewError(CodeAborted, fmt.Sprintf("Request aborted: %v", cause), cause)
}
