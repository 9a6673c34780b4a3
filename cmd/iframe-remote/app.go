package main

import (
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/mineclover/iframe-remote/config"
	"github.com/mineclover/iframe-remote/devtools"
	"github.com/mineclover/iframe-remote/logging"
	"github.com/mineclover/iframe-remote/message"
	"github.com/mineclover/iframe-remote/messenger"
	"github.com/mineclover/iframe-remote/middleware"
	"github.com/mineclover/iframe-remote/observability"
	"github.com/mineclover/iframe-remote/registry"
	"github.com/mineclover/iframe-remote/rpc"
	"github.com/mineclover/iframe-remote/transport"
)

// app carries the resolved configuration into every subcommand.
type app struct {
	cfg config.Config
}

// self is the identity this process presents on the channel. Without a
// configured id every run gets a fresh one so two hosts never collide.
func (a *app) self(role string) transport.Peer {
	id := a.cfg.Channel.SelfID
	if id == "" {
		id = role + "-" + message.NewID()
	}
	origin := a.cfg.Channel.Origin
	if origin == "" {
		origin = a.cfg.Transport.Kind + "://" + id
	}
	return transport.Peer{ID: id, Origin: origin}
}

func (a *app) transportOptions(logger zerolog.Logger) []transport.Option {
	ch := a.cfg.Channel
	opts := []transport.Option{
		transport.WithCodec(ch.CodecType()),
		transport.WithDebug(ch.Debug),
		transport.WithLogger(logger),
	}
	if ch.ExpectedOrigin != "" {
		opts = append(opts, transport.WithExpectedOrigin(ch.ExpectedOrigin))
	}
	if ch.TargetOrigin != "" {
		opts = append(opts, transport.WithTargetOrigin(ch.TargetOrigin))
	}
	return opts
}

// middlewares wraps inbound dispatch with logging, metrics and the configured
// limits, outermost first.
func (a *app) middlewares(component string, logger zerolog.Logger) []middleware.Middleware {
	mws := []middleware.Middleware{
		middleware.LoggingMiddleware(logger),
		observability.DispatchMiddleware(component),
	}
	if l := a.cfg.Limits; l.Rate > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(l.Rate, l.Burst))
	}
	if d := a.cfg.Limits.DispatchTimeout.Duration; d > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(d))
	}
	return mws
}

func (a *app) rpcOptions() []rpc.Option {
	logger := logging.For("rpc").With().Str("channel", a.cfg.Channel.Name).Logger()
	return []rpc.Option{
		rpc.WithTimeout(a.cfg.Channel.Timeout.Duration),
		rpc.WithDebug(a.cfg.Channel.Debug),
		rpc.WithLogger(logger),
		rpc.WithObserver(observability.NewObserver("rpc")),
		rpc.WithMiddleware(a.middlewares("rpc", logger)...),
		rpc.WithOnError(func(err error) { logger.Warn().Err(err).Msg("rpc error") }),
		rpc.WithTransportOptions(a.transportOptions(logger)...),
	}
}

func (a *app) messengerOptions(extra ...messenger.Option) []messenger.Option {
	logger := logging.For("messenger").With().Str("channel", a.cfg.Channel.Name).Logger()
	opts := []messenger.Option{
		messenger.WithTimeout(a.cfg.Channel.Timeout.Duration),
		messenger.WithDebug(a.cfg.Channel.Debug),
		messenger.WithLogger(logger),
		messenger.WithObserver(observability.NewObserver("messenger")),
		messenger.WithMiddleware(a.middlewares("messenger", logger)...),
		messenger.WithOnError(func(err error) { logger.Warn().Err(err).Msg("messenger error") }),
		messenger.WithTransportOptions(a.transportOptions(logger)...),
	}
	return append(opts, extra...)
}

func (a *app) devtoolsOptions() ([]devtools.Option, error) {
	dt := a.cfg.Devtools
	opts := []devtools.Option{
		devtools.WithPrefix(dt.FunctionPrefix),
		devtools.WithInherited(dt.IncludeNamespaceProps),
		devtools.WithConfig(dt.Settings),
	}
	if dt.FunctionPattern != "" {
		re, err := regexp.Compile(dt.FunctionPattern)
		if err != nil {
			return nil, fmt.Errorf("devtools.function_pattern: %w", err)
		}
		opts = append(opts, devtools.WithPattern(re))
	}
	return opts, nil
}

// openRegistry connects to etcd when endpoints are configured.
func (a *app) openRegistry() (*registry.EtcdRegistry, error) {
	t := a.cfg.Transport
	if len(t.EtcdEndpoints) == 0 {
		return nil, nil
	}
	reg, err := registry.NewEtcdRegistry(t.EtcdEndpoints, registry.WithPrefix(t.EtcdPrefix))
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return reg, nil
}

func (a *app) mailbox(reg *registry.EtcdRegistry, self transport.Peer, extra ...transport.MailboxOption) *transport.EtcdMailbox {
	opts := []transport.MailboxOption{
		transport.WithMailboxPrefix(a.cfg.Transport.EtcdPrefix + "/mailbox"),
		transport.WithMailboxTTL(a.cfg.Transport.MessageTTL),
		transport.WithMailboxLogger(logging.For("mailbox")),
	}
	return transport.NewEtcdMailbox(reg.Client(), self, append(opts, extra...)...)
}
