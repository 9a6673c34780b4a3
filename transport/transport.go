// Package transport hides the one-way message primitive behind a uniform
// envelope contract.
//
// A Primitive only knows how to push bytes at a peer and how to hand inbound
// bytes, tagged with the sender's origin and source id, to subscribers. The
// Adapter on top encodes envelopes, and filters inbound traffic by origin and
// by source so several channels can share one receive path without cross-talk.
//
//	Adapter.SendEnvelope ──encode──→ Primitive.Deliver ──→ peer
//	peer ──→ Primitive.Subscribe ──origin/source filter──decode──→ Adapter.OnEnvelope
package transport

import (
	"context"
	"errors"

	"github.com/mineclover/iframe-remote/codec"
	"github.com/mineclover/iframe-remote/message"
)

var (
	ErrClosed      = errors.New("transport: closed")
	ErrNotEmbedded = errors.New("transport: no enclosing peer context, not embedded")
	ErrUnknownPeer = errors.New("transport: unknown peer")
	ErrPeerExists  = errors.New("transport: peer already registered")
	ErrDeliver     = errors.New("transport: deliver failed")
)

// AnyOrigin disables origin filtering.
const AnyOrigin = "*"

// Peer identifies one side of a channel. ID is the source reference checked on
// every inbound message; Origin is the origin the peer sends from.
type Peer struct {
	ID     string `json:"id"`
	Origin string `json:"origin"`
}

// Outbound is one message handed to a primitive.
type Outbound struct {
	Target       string          // peer id to deliver to
	TargetOrigin string          // deliver only if the target's origin matches; "" or "*" for any
	Codec        codec.CodecType // codec used for Data
	Data         []byte
}

// Inbound is one message received by a primitive, with sender metadata.
type Inbound struct {
	Origin string
	Source string
	Codec  codec.CodecType
	Data   []byte
}

// Primitive is the one-way asynchronous transport. Deliver gives no ordering
// or delivery acknowledgement; an error means the message could not even be
// handed off (e.g. the peer reference is invalid).
type Primitive interface {
	Deliver(out Outbound) error
	Subscribe(fn func(Inbound)) (unsubscribe func())
}

// Locator finds the enclosing peer of an embedded side.
type Locator interface {
	Locate(ctx context.Context) (Peer, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (Peer, error)

func (f LocatorFunc) Locate(ctx context.Context) (Peer, error) {
	return f(ctx)
}

// Conn is the envelope-level contract consumed by the messenger and RPC layers.
type Conn interface {
	SendEnvelope(env *message.Envelope) error
	OnEnvelope(fn func(*message.Envelope))
	Close() error
}

// MatchOrigin reports whether origin passes filter.
func MatchOrigin(filter, origin string) bool {
	return filter == "" || filter == AnyOrigin || filter == origin
}
