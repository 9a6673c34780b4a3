// Package messenger implements fire-and-forget messages and correlated
// request/response on top of a transport.Conn. One Communicator serves either
// side of the channel; the role comes from the adapter it is built on.
//
//	Send    ──message──────────────────────────→ peer onMessage
//	Request ──request(id)──→ peer onRequest ──response(id)──→ Correlator.Resolve
package messenger

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mineclover/iframe-remote/correlator"
	"github.com/mineclover/iframe-remote/logging"
	"github.com/mineclover/iframe-remote/message"
	"github.com/mineclover/iframe-remote/middleware"
	"github.com/mineclover/iframe-remote/transport"
)

const (
	errNoHandler = "No request handler configured"
	errUnknown   = "Unknown error"
)

type Communicator struct {
	conn      transport.Conn
	corr      *correlator.Correlator
	onMessage func(json.RawMessage)
	onRequest RequestHandler
	onError   func(error)
	debug     bool
	logger    zerolog.Logger
	dispatch  middleware.HandlerFunc

	ctx     context.Context // parent of every dispatch, cancelled by Destroy
	cancel  context.CancelFunc
	destroy sync.Once
}

// New builds a communicator on an existing connection and starts receiving.
func New(conn transport.Conn, opts ...Option) *Communicator {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return newCommunicator(conn, o)
}

// NewHost builds the initiator side, talking to peer over prim.
func NewHost(prim transport.Primitive, peer transport.Peer, opts ...Option) *Communicator {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return newCommunicator(transport.NewInitiator(prim, peer, o.adapterOptions()...), o)
}

// NewFrame builds the embedded side. It fails with transport.ErrNotEmbedded
// when loc finds no enclosing peer.
func NewFrame(ctx context.Context, prim transport.Primitive, loc transport.Locator, opts ...Option) (*Communicator, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	conn, err := transport.NewEmbedded(ctx, prim, loc, o.adapterOptions()...)
	if err != nil {
		return nil, err
	}
	return newCommunicator(conn, o), nil
}

func (o *options) adapterOptions() []transport.Option {
	opts := append([]transport.Option{}, o.transport...)
	if o.debug {
		opts = append(opts, transport.WithDebug(true))
	}
	if o.logger != nil {
		opts = append(opts, transport.WithLogger(*o.logger))
	}
	return opts
}

func newCommunicator(conn transport.Conn, o *options) *Communicator {
	logger := logging.For("messenger")
	if o.logger != nil {
		logger = *o.logger
	}
	c := &Communicator{
		conn:      conn,
		onMessage: o.onMessage,
		onRequest: o.onRequest,
		onError:   o.onError,
		debug:     o.debug,
		logger:    logger,
	}
	c.corr = correlator.New(
		correlator.WithTimeout(o.timeout),
		correlator.WithClock(o.clock),
		correlator.WithObserver(o.observer),
	)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	// recover wraps both ends: middlewares may run the handler on another goroutine
	recoverer := middleware.RecoverMiddleware(logger)
	mws := append([]middleware.Middleware{recoverer}, o.middlewares...)
	c.dispatch = middleware.Chain(mws...)(recoverer(c.handle))

	conn.OnEnvelope(c.receive)
	return c
}

// Send posts a fire-and-forget message. Failures go to the error handler only.
func (c *Communicator) Send(payload any) {
	env, err := message.NewMessage(payload)
	if err != nil {
		c.report(err)
		return
	}
	if err := c.conn.SendEnvelope(env); err != nil {
		c.report(err)
	}
}

// Request sends payload and waits for the peer's response. Failures are
// *correlator.Error values: TIMEOUT, ABORTED (ctx done), SEND_ERROR,
// REMOTE_ERROR (peer handler failed) or DESTROYED.
func (c *Communicator) Request(ctx context.Context, payload any, opts ...CallOption) (json.RawMessage, error) {
	// The correlator always settles the future, so the wait needs no deadline of its own.
	return c.RequestAsync(ctx, payload, opts...).Wait(context.Background())
}

// RequestAsync is Request without blocking.
func (c *Communicator) RequestAsync(ctx context.Context, payload any, opts ...CallOption) *correlator.Future {
	raw, err := message.Marshal(payload)
	if err != nil {
		c.report(err)
		return correlator.Rejected(correlator.NewError(correlator.CodeSendError, "Send failed: "+err.Error(), err))
	}
	var co correlator.CallOptions
	for _, opt := range opts {
		opt(&co)
	}
	return c.corr.Issue(ctx, func(id string) error {
		env, _ := message.NewRequest(id, raw)
		if err := c.conn.SendEnvelope(env); err != nil {
			c.report(err)
			return err
		}
		return nil
	}, co)
}

func (c *Communicator) receive(env *message.Envelope) {
	switch env.Kind {
	case message.KindResponse:
		if !c.corr.Resolve(env.ID, env.Succeeded(), env.Payload, env.Error) && c.debug {
			c.logger.Debug().Str("id", env.ID).Msg("response for unknown request")
		}
	case message.KindRequest:
		go c.serve(env)
	case message.KindMessage:
		c.deliverMessage(env.Payload)
	}
}

// deliverMessage runs onMessage, keeping a panicking callback away from the receive loop.
func (c *Communicator) deliverMessage(payload json.RawMessage) {
	if c.onMessage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("message handler panicked")
		}
	}()
	c.onMessage(payload)
}

func (c *Communicator) serve(req *message.Envelope) {
	reply := c.dispatch(c.ctx, req)
	if reply == nil {
		return
	}
	if err := c.conn.SendEnvelope(reply); err != nil {
		c.report(err)
	}
}

// handle is the innermost dispatch step: call onRequest and build the response.
func (c *Communicator) handle(ctx context.Context, req *message.Envelope) *message.Envelope {
	if c.onRequest == nil {
		return req.Fail(errNoHandler)
	}
	result, err := c.onRequest(ctx, req.Payload)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = errUnknown
		}
		return req.Fail(msg)
	}
	reply, err := req.Reply(result)
	if err != nil {
		return req.Fail(err.Error())
	}
	return reply
}

func (c *Communicator) report(err error) {
	if c.debug {
		c.logger.Debug().Err(err).Msg("send failed")
	}
	if c.onError != nil {
		c.onError(err)
	}
}

// Pending returns the number of outstanding requests.
func (c *Communicator) Pending() int {
	return c.corr.Len()
}

// Destroy stops receiving and rejects every outstanding request with
// DESTROYED before returning. Safe to call more than once.
func (c *Communicator) Destroy() {
	c.destroy.Do(func() {
		c.cancel()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("close")
		}
		c.corr.DestroyAll(correlator.ErrDestroyed)
	})
}
