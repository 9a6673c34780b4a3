package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mineclover/iframe-remote/config"
	"github.com/mineclover/iframe-remote/devtools"
	"github.com/mineclover/iframe-remote/logging"
	"github.com/mineclover/iframe-remote/messenger"
	"github.com/mineclover/iframe-remote/observability"
	"github.com/mineclover/iframe-remote/registry"
	"github.com/mineclover/iframe-remote/rpc"
	"github.com/mineclover/iframe-remote/transport"
)

var errWatchClosed = errors.New("registry watch closed")

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the embedded side: demo rpc methods, a request handler and devtools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			f, err := a.newFrameSide(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return f.run(ctx)
		},
	}
}

// frameSide is the embedded end. Every host connection (tcp) or host
// registration (etcd) gets its own session sharing one devtools registry.
type frameSide struct {
	a      *app
	self   transport.Peer
	tools  *devtools.Registry
	out    io.Writer
	logger zerolog.Logger

	// listening is told the bound address once the tcp listener is up.
	listening func(addr string)
}

func (a *app) newFrameSide(out io.Writer) (*frameSide, error) {
	opts, err := a.devtoolsOptions()
	if err != nil {
		return nil, err
	}
	logger := logging.For("serve").With().Str("channel", a.cfg.Channel.Name).Logger()
	opts = append(opts, devtools.WithLogger(logging.For("devtools")))
	return &frameSide{
		a:      a,
		self:   a.self(registry.RoleFrame),
		tools:  devtools.NewRegistry(demoNamespace(), opts...),
		out:    out,
		logger: logger,
	}, nil
}

func (f *frameSide) run(ctx context.Context) error {
	stopMetrics, err := f.a.startMetrics()
	if err != nil {
		return err
	}
	defer stopMetrics()

	reg, err := f.a.openRegistry()
	if err != nil {
		return err
	}
	if reg != nil {
		defer reg.Close()
	}

	if f.a.cfg.Transport.Kind == config.TransportEtcd {
		return f.serveEtcd(ctx, reg)
	}

	ln, err := net.Listen("tcp", f.a.cfg.Transport.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", f.a.cfg.Transport.Addr, err)
	}
	if reg != nil {
		inst := registry.PeerInstance{ID: f.self.ID, Origin: f.self.Origin, Role: registry.RoleFrame, Addr: ln.Addr().String()}
		if err := reg.Register(f.a.cfg.Channel.Name, inst, f.a.cfg.Transport.MessageTTL); err != nil {
			ln.Close()
			return fmt.Errorf("advertise frame: %w", err)
		}
		defer reg.Deregister(f.a.cfg.Channel.Name, f.self.ID)
	}
	return f.serveTCP(ctx, ln)
}

// session is one attached host.
type session struct {
	engine *rpc.Engine
	msgr   *messenger.Communicator
}

func (s *session) close() {
	s.msgr.Destroy()
	s.engine.Destroy()
}

// attach builds the rpc engine and the messenger of one session. Both share
// prim; each ignores the other's message kinds. ready runs once every handler
// is in place and opens the session to the host.
func (f *frameSide) attach(ctx context.Context, prim transport.Primitive, loc transport.Locator, ready func()) (*session, error) {
	engine, err := rpc.NewFrame(ctx, prim, loc, f.a.rpcOptions()...)
	if err != nil {
		return nil, err
	}
	if err := registerDemoMethods(engine); err != nil {
		engine.Destroy()
		return nil, err
	}
	if err := f.tools.Serve(engine); err != nil {
		engine.Destroy()
		return nil, err
	}
	msgr, err := messenger.NewFrame(ctx, prim, loc, f.a.messengerOptions(
		messenger.WithOnRequest(f.onRequest),
		messenger.WithOnMessage(func(payload json.RawMessage) {
			f.logger.Info().RawJSON("payload", payload).Msg("message")
		}),
	)...)
	if err != nil {
		engine.Destroy()
		return nil, err
	}
	ready()
	return &session{engine: engine, msgr: msgr}, nil
}

// onRequest answers messenger requests by echoing the payload back.
func (f *frameSide) onRequest(ctx context.Context, payload json.RawMessage) (any, error) {
	return map[string]any{"echo": payload, "from": f.self.ID}, nil
}

func (f *frameSide) serveTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	f.logger.Info().Str("addr", ln.Addr().String()).Str("id", f.self.ID).Msg("serving")
	fmt.Fprintf(f.out, "serving %s on %s\n", f.a.cfg.Channel.Name, ln.Addr())
	if f.listening != nil {
		f.listening(ln.Addr().String())
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.serveConn(ctx, conn)
		}()
	}
}

func (f *frameSide) serveConn(ctx context.Context, conn net.Conn) {
	stream := transport.NewStream(conn, f.self,
		transport.WithHeartbeat(f.a.cfg.Transport.Heartbeat.Duration),
		transport.WithStreamLogger(logging.For("stream")),
		transport.WithDeferredHello(),
	)
	defer stream.Close()

	helloCtx, cancel := context.WithTimeout(ctx, f.a.cfg.Channel.Timeout.Duration)
	s, err := f.attach(helloCtx, stream, stream, stream.Announce)
	cancel()
	if err != nil {
		f.logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("attach failed")
		return
	}
	defer s.close()

	host, _ := stream.Remote()
	f.logger.Info().Str("host", host.ID).Msg("host attached")
	select {
	case <-stream.Done():
	case <-ctx.Done():
	}
	f.logger.Info().Str("host", host.ID).Msg("host detached")
}

// serveEtcd advertises the frame and runs one session per registered host.
func (f *frameSide) serveEtcd(ctx context.Context, reg *registry.EtcdRegistry) error {
	channel := f.a.cfg.Channel.Name
	inst := registry.PeerInstance{ID: f.self.ID, Origin: f.self.Origin, Role: registry.RoleFrame}
	if err := reg.Register(channel, inst, f.a.cfg.Transport.MessageTTL); err != nil {
		return fmt.Errorf("advertise frame: %w", err)
	}
	defer reg.Deregister(channel, f.self.ID)

	updates := reg.Watch(channel)
	loc := registry.ParentLocator{Registry: reg, Channel: channel}
	f.logger.Info().Str("id", f.self.ID).Msg("waiting for host")
	fmt.Fprintf(f.out, "serving %s over etcd as %s\n", channel, f.self.ID)

	for {
		host, err := awaitHost(ctx, loc, updates)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		mbox := f.a.mailbox(reg, f.self, transport.WithDeferredWatch())
		fixed := transport.LocatorFunc(func(context.Context) (transport.Peer, error) { return host, nil })
		s, err := f.attach(ctx, mbox, fixed, mbox.Start)
		if err != nil {
			mbox.Close()
			return err
		}
		f.logger.Info().Str("host", host.ID).Msg("host attached")

		err = awaitHostGone(ctx, host.ID, updates)
		s.close()
		mbox.Close()
		f.logger.Info().Str("host", host.ID).Msg("host detached")
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// awaitHost blocks until loc finds a host, re-checking on every registry change.
func awaitHost(ctx context.Context, loc registry.ParentLocator, updates <-chan []registry.PeerInstance) (transport.Peer, error) {
	for {
		peer, err := loc.Locate(ctx)
		if err == nil {
			return peer, nil
		}
		if !errors.Is(err, registry.ErrNoHost) {
			return transport.Peer{}, err
		}
		select {
		case <-ctx.Done():
			return transport.Peer{}, ctx.Err()
		case _, ok := <-updates:
			if !ok {
				return transport.Peer{}, errWatchClosed
			}
		}
	}
}

// awaitHostGone returns once the host with id is no longer registered.
func awaitHostGone(ctx context.Context, id string, updates <-chan []registry.PeerInstance) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case list, ok := <-updates:
			if !ok {
				return errWatchClosed
			}
			if !hasHost(list, id) {
				return nil
			}
		}
	}
}

func hasHost(list []registry.PeerInstance, id string) bool {
	for _, inst := range list {
		if inst.Role == registry.RoleHost && inst.ID == id {
			return true
		}
	}
	return false
}

// startMetrics serves prometheus metrics when metrics.addr is set.
func (a *app) startMetrics() (func(), error) {
	m := a.cfg.Metrics
	if m.Addr == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", m.Addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", m.Addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle(m.Path, observability.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger := logging.For("metrics")
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
