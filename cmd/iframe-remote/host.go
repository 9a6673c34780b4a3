package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/mineclover/iframe-remote/config"
	"github.com/mineclover/iframe-remote/logging"
	"github.com/mineclover/iframe-remote/messenger"
	"github.com/mineclover/iframe-remote/registry"
	"github.com/mineclover/iframe-remote/rpc"
	"github.com/mineclover/iframe-remote/transport"
)

var errNoFrame = errors.New("no frame registered for channel")

// hostSide is the initiator end used by the one-shot commands.
type hostSide struct {
	engine  *rpc.Engine
	msgr    *messenger.Communicator
	closers []func()
}

// Close destroys the engine and messenger, then releases the transport in
// reverse order of acquisition.
func (h *hostSide) Close() {
	if h.msgr != nil {
		h.msgr.Destroy()
	}
	if h.engine != nil {
		h.engine.Destroy()
	}
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i]()
	}
}

func (a *app) connect(ctx context.Context) (*hostSide, error) {
	self := a.self(registry.RoleHost)
	if a.cfg.Transport.Kind == config.TransportEtcd {
		return a.connectEtcd(self)
	}
	return a.connectTCP(ctx, self)
}

func (a *app) connectTCP(ctx context.Context, self transport.Peer) (*hostSide, error) {
	h := &hostSide{}
	addr := a.cfg.Transport.Addr

	// A frame that advertised itself wins over the configured address.
	reg, err := a.openRegistry()
	if err != nil {
		return nil, err
	}
	if reg != nil {
		h.closers = append(h.closers, func() { reg.Close() })
		if inst, err := frameInstance(reg, a.cfg.Channel.Name); err == nil && inst.Addr != "" {
			addr = inst.Addr
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.Channel.Timeout.Duration)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	stream := transport.NewStream(conn, self,
		transport.WithHeartbeat(a.cfg.Transport.Heartbeat.Duration),
		transport.WithStreamLogger(logging.For("stream")),
	)
	h.closers = append(h.closers, func() { stream.Close() })

	peer, err := stream.Locate(dialCtx)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("wait for frame hello: %w", err)
	}
	a.attachHost(h, stream, peer)
	return h, nil
}

// connectEtcd registers this process as the channel host and talks to the
// advertised frame through the etcd mailbox.
func (a *app) connectEtcd(self transport.Peer) (*hostSide, error) {
	reg, err := a.openRegistry()
	if err != nil {
		return nil, err
	}
	h := &hostSide{closers: []func(){func() { reg.Close() }}}

	channel := a.cfg.Channel.Name
	frame, err := frameInstance(reg, channel)
	if err != nil {
		h.Close()
		return nil, err
	}
	inst := registry.PeerInstance{ID: self.ID, Origin: self.Origin, Role: registry.RoleHost}
	if err := reg.Register(channel, inst, a.cfg.Transport.MessageTTL); err != nil {
		h.Close()
		return nil, fmt.Errorf("register host: %w", err)
	}
	h.closers = append(h.closers, func() { reg.Deregister(channel, self.ID) })

	mbox := a.mailbox(reg, self)
	h.closers = append(h.closers, func() { mbox.Close() })
	a.attachHost(h, mbox, frame.Peer())
	return h, nil
}

func (a *app) attachHost(h *hostSide, prim transport.Primitive, peer transport.Peer) {
	h.engine = rpc.NewHost(prim, peer, a.rpcOptions()...)
	h.msgr = messenger.NewHost(prim, peer, a.messengerOptions()...)
}

// frameInstance returns the first frame advertised on channel.
func frameInstance(r registry.Registry, channel string) (registry.PeerInstance, error) {
	instances, err := r.Discover(channel)
	if err != nil {
		return registry.PeerInstance{}, err
	}
	for _, inst := range instances {
		if inst.Role == registry.RoleFrame {
			return inst, nil
		}
	}
	return registry.PeerInstance{}, fmt.Errorf("%w: %s", errNoFrame, channel)
}
