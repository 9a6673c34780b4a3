// Package registry advertises channel peers so an embedded side can find the
// host it belongs to without being handed a reference.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/mineclover/iframe-remote/transport"
)

// Peer roles stored in the registry.
const (
	RoleHost  = "host"
	RoleFrame = "frame"
)

var ErrNoHost = errors.New("registry: no host registered for channel")

// PeerInstance is one advertised side of a channel.
type PeerInstance struct {
	ID     string `json:"id"`
	Origin string `json:"origin"`
	Role   string `json:"role"`
	Addr   string `json:"addr,omitempty"` // dial address when the channel runs over a stream
}

// Peer returns the transport identity of the instance.
func (p PeerInstance) Peer() transport.Peer {
	return transport.Peer{ID: p.ID, Origin: p.Origin}
}

type Registry interface {
	Register(channel string, instance PeerInstance, ttl int64) error
	Deregister(channel string, id string) error
	Discover(channel string) ([]PeerInstance, error)
	Watch(channel string) <-chan []PeerInstance
}

// ParentLocator finds the host of a channel in a Registry. It is the Locator
// an embedded side uses when its parent is not known up front.
type ParentLocator struct {
	Registry Registry
	Channel  string
}

func (l ParentLocator) Locate(ctx context.Context) (transport.Peer, error) {
	if err := ctx.Err(); err != nil {
		return transport.Peer{}, err
	}
	instances, err := l.Registry.Discover(l.Channel)
	if err != nil {
		return transport.Peer{}, fmt.Errorf("registry: discover %s: %w", l.Channel, err)
	}
	for _, inst := range instances {
		if inst.Role == RoleHost {
			return inst.Peer(), nil
		}
	}
	return transport.Peer{}, fmt.Errorf("%w: %w: %s", transport.ErrNotEmbedded, ErrNoHost, l.Channel)
}

// Host returns the registered host instance of a channel, address included.
func Host(r Registry, channel string) (PeerInstance, error) {
	instances, err := r.Discover(channel)
	if err != nil {
		return PeerInstance{}, err
	}
	for _, inst := range instances {
		if inst.Role == RoleHost {
			return inst, nil
		}
	}
	return PeerInstance{}, fmt.Errorf("%w: %s", ErrNoHost, channel)
}
