// Package rpc implements named remote calls over a transport.Conn.
//
// Each side owns a handler registry and a correlator; either side may call and
// be called. Inbound calls run in their own goroutine through the middleware
// chain, so a slow method never holds up the others.
//
//	Call ──rpc-call(id, method, args)──→ peer: lookup → middleware → handler
//	     ←─rpc-response(id, result | error)── Correlator.Resolve
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mineclover/iframe-remote/correlator"
	"github.com/mineclover/iframe-remote/logging"
	"github.com/mineclover/iframe-remote/message"
	"github.com/mineclover/iframe-remote/middleware"
	"github.com/mineclover/iframe-remote/transport"
)

type Engine struct {
	conn     transport.Conn
	corr     *correlator.Correlator
	onError  func(error)
	debug    bool
	logger   zerolog.Logger
	dispatch middleware.HandlerFunc

	mu       sync.RWMutex
	handlers map[string]Handler

	ctx     context.Context // parent of every dispatch, cancelled by Destroy
	cancel  context.CancelFunc
	destroy sync.Once
}

// New builds an engine on an existing connection and starts receiving.
func New(conn transport.Conn, opts ...Option) *Engine {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return newEngine(conn, o)
}

// NewHost builds the initiator side, talking to peer over prim.
func NewHost(prim transport.Primitive, peer transport.Peer, opts ...Option) *Engine {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return newEngine(transport.NewInitiator(prim, peer, o.adapterOptions()...), o)
}

// NewFrame builds the embedded side. It fails with transport.ErrNotEmbedded
// when loc finds no enclosing peer.
func NewFrame(ctx context.Context, prim transport.Primitive, loc transport.Locator, opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	conn, err := transport.NewEmbedded(ctx, prim, loc, o.adapterOptions()...)
	if err != nil {
		return nil, err
	}
	return newEngine(conn, o), nil
}

func newEngine(conn transport.Conn, o *options) *Engine {
	logger := logging.For("rpc")
	if o.logger != nil {
		logger = *o.logger
	}
	e := &Engine{
		conn:     conn,
		onError:  o.onError,
		debug:    o.debug,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
	e.corr = correlator.New(
		correlator.WithTimeout(o.timeout),
		correlator.WithClock(o.clock),
		correlator.WithObserver(o.observer),
	)
	e.ctx, e.cancel = context.WithCancel(context.Background())

	// recover wraps both ends: middlewares may run the handler on another goroutine
	recoverer := middleware.RecoverMiddleware(logger)
	mws := append([]middleware.Middleware{recoverer}, o.middlewares...)
	e.dispatch = middleware.Chain(mws...)(recoverer(e.handle))

	conn.OnEnvelope(e.receive)
	return e
}

// Call invokes method on the peer with positional args and waits for the
// result. Failures are *correlator.Error values; a failing remote method
// yields REMOTE_ERROR with the remote message.
func (e *Engine) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	return e.Go(ctx, method, CallOptions{}, args...).Wait(context.Background())
}

// CallWithOptions is Call with per-call overrides such as the timeout.
func (e *Engine) CallWithOptions(ctx context.Context, method string, opts CallOptions, args ...any) (json.RawMessage, error) {
	return e.Go(ctx, method, opts, args...).Wait(context.Background())
}

// Go issues the call without waiting.
func (e *Engine) Go(ctx context.Context, method string, opts CallOptions, args ...any) *correlator.Future {
	call, err := message.NewCall("", method, args...)
	if err != nil {
		err = fmt.Errorf("rpc: encode arguments of %s: %w", method, err)
		e.report(err)
		return correlator.Rejected(correlator.NewError(correlator.CodeSendError, "Send failed: "+err.Error(), err))
	}
	return e.corr.Issue(ctx, func(id string) error {
		env := *call
		env.ID = id
		env.Timestamp = message.Now()
		if err := e.conn.SendEnvelope(&env); err != nil {
			e.report(err)
			return err
		}
		return nil
	}, opts)
}

// Register installs fn under name, replacing any previous handler. See Adapt
// for the accepted func shapes.
func (e *Engine) Register(name string, fn any) error {
	if name == "" {
		return fmt.Errorf("rpc: method name required")
	}
	h, err := Adapt(fn)
	if err != nil {
		return fmt.Errorf("rpc: register %s: %w", name, err)
	}
	e.register(name, h)
	return nil
}

// MustRegister is Register that panics on a bad handler.
func (e *Engine) MustRegister(name string, fn any) {
	if err := e.Register(name, fn); err != nil {
		panic(err)
	}
}

// RegisterAll registers every entry of handlers. Nothing is registered if any entry is invalid.
func (e *Engine) RegisterAll(handlers map[string]any) error {
	adapted := make(map[string]Handler, len(handlers))
	for name, fn := range handlers {
		if name == "" {
			return fmt.Errorf("rpc: method name required")
		}
		h, err := Adapt(fn)
		if err != nil {
			return fmt.Errorf("rpc: register %s: %w", name, err)
		}
		adapted[name] = h
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, h := range adapted {
		e.handlers[name] = h
	}
	return nil
}

func (e *Engine) register(name string, h Handler) {
	e.mu.Lock()
	e.handlers[name] = h
	e.mu.Unlock()
}

// Unregister removes name. Later calls to it fail with "Method not found".
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	delete(e.handlers, name)
	e.mu.Unlock()
}

func (e *Engine) UnregisterAll() {
	e.mu.Lock()
	e.handlers = make(map[string]Handler)
	e.mu.Unlock()
}

// Methods returns the registered names, sorted.
func (e *Engine) Methods() []string {
	e.mu.RLock()
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	e.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (e *Engine) lookup(name string) Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handlers[name]
}

func (e *Engine) receive(env *message.Envelope) {
	switch env.Kind {
	case message.KindRPCResponse:
		if !e.corr.Resolve(env.ID, env.Succeeded(), env.Result, env.Error) && e.debug {
			e.logger.Debug().Str("id", env.ID).Msg("response for unknown call")
		}
	case message.KindRPCCall:
		go e.serve(env)
	}
}

func (e *Engine) serve(req *message.Envelope) {
	reply := e.dispatch(e.ctx, req)
	if reply == nil {
		return
	}
	if err := e.conn.SendEnvelope(reply); err != nil {
		e.report(err)
	}
}

// handle is the innermost dispatch step. The handler is looked up at
// dispatch time so Unregister takes effect for calls already in flight.
func (e *Engine) handle(ctx context.Context, req *message.Envelope) *message.Envelope {
	h := e.lookup(req.Method)
	if h == nil {
		return req.Fail("Method not found: " + req.Method)
	}
	result, err := h(ctx, req.Args)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "Unknown error"
		}
		return req.Fail(msg)
	}
	reply, err := req.Reply(result)
	if err != nil {
		return req.Fail(err.Error())
	}
	return reply
}

func (e *Engine) report(err error) {
	if e.debug {
		e.logger.Debug().Err(err).Msg("send failed")
	}
	if e.onError != nil {
		e.onError(err)
	}
}

// Pending returns the number of outstanding calls.
func (e *Engine) Pending() int {
	return e.corr.Len()
}

// Destroy clears the registry, rejects every outstanding call with
// RPC_DESTROYED before returning and stops receiving. Safe to call more than once.
func (e *Engine) Destroy() {
	e.destroy.Do(func() {
		e.UnregisterAll()
		e.corr.DestroyAll(correlator.ErrRPCDestroyed)
		e.cancel()
		if err := e.conn.Close(); err != nil {
			e.logger.Debug().Err(err).Msg("close")
		}
	})
}
