package messenger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mineclover/iframe-remote/correlator"
	"github.com/mineclover/iframe-remote/middleware"
	"github.com/mineclover/iframe-remote/transport"
)

// RequestHandler answers an inbound request. The returned value becomes the
// response payload; an error becomes a failure response with its message.
type RequestHandler func(ctx context.Context, payload json.RawMessage) (any, error)

type options struct {
	timeout     time.Duration
	clock       clockwork.Clock
	observer    correlator.Observer
	onMessage   func(json.RawMessage)
	onRequest   RequestHandler
	onError     func(error)
	debug       bool
	logger      *zerolog.Logger
	middlewares []middleware.Middleware
	transport   []transport.Option
}

type Option func(*options)

// WithTimeout sets the default request timeout. Defaults to 5s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithObserver(obs correlator.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithOnMessage receives the payload of every fire-and-forget message.
func WithOnMessage(fn func(payload json.RawMessage)) Option {
	return func(o *options) { o.onMessage = fn }
}

func WithOnRequest(fn RequestHandler) Option {
	return func(o *options) { o.onRequest = fn }
}

// WithOnError receives send failures, including those of Send.
func WithOnError(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// WithDebug logs traffic here and, for NewHost/NewFrame, in the adapter.
func WithDebug(debug bool) Option {
	return func(o *options) { o.debug = debug }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithMiddleware wraps inbound request dispatch. Panic recovery is always the outermost layer.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithTransportOptions configures the adapter built by NewHost and NewFrame.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) { o.transport = append(o.transport, opts...) }
}

// CallOption overrides defaults for one request.
type CallOption func(*correlator.CallOptions)

func WithCallTimeout(d time.Duration) CallOption {
	return func(co *correlator.CallOptions) { co.Timeout = d }
}
