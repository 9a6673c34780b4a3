package rpc

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mineclover/iframe-remote/correlator"
	"github.com/mineclover/iframe-remote/middleware"
	"github.com/mineclover/iframe-remote/transport"
)

// CallOptions override engine defaults for one call.
type CallOptions = correlator.CallOptions

type options struct {
	timeout     time.Duration
	clock       clockwork.Clock
	observer    correlator.Observer
	onError     func(error)
	debug       bool
	logger      *zerolog.Logger
	middlewares []middleware.Middleware
	transport   []transport.Option
}

type Option func(*options)

// WithTimeout sets the default call timeout. Defaults to 5s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithObserver(obs correlator.Observer) Option {
	return func(o *options) { o.observer = obs }
}

func WithOnError(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

func WithDebug(debug bool) Option {
	return func(o *options) { o.debug = debug }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithMiddleware wraps inbound call dispatch. Panic recovery is always the outermost layer.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithTransportOptions configures the adapter built by NewHost and NewFrame.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) { o.transport = append(o.transport, opts...) }
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
