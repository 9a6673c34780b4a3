package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mineclover/iframe-remote/codec"
	"github.com/mineclover/iframe-remote/logging"
	"github.com/mineclover/iframe-remote/message"
)

// Role tells which side of the channel an adapter serves.
type Role int

const (
	RoleInitiator Role = iota // holds a reference to the peer it talks to
	RoleEmbedded              // discovered its peer through a Locator
)

func (r Role) String() string {
	if r == RoleEmbedded {
		return "embedded"
	}
	return "initiator"
}

// Adapter turns a Primitive into an envelope Conn bound to one peer.
type Adapter struct {
	prim           Primitive
	peer           Peer
	expectedOrigin string
	targetOrigin   string
	codec          codec.Codec
	onError        func(error)
	logger         zerolog.Logger
	debug          bool

	mu          sync.Mutex
	handler     func(*message.Envelope)
	unsubscribe func()
	closed      bool
}

type Option func(*Adapter)

// WithExpectedOrigin drops inbound messages from any other origin. "" or "*" accepts all.
func WithExpectedOrigin(origin string) Option {
	return func(a *Adapter) { a.expectedOrigin = origin }
}

// WithTargetOrigin restricts delivery to a peer with this origin. Defaults to "*".
func WithTargetOrigin(origin string) Option {
	return func(a *Adapter) { a.targetOrigin = origin }
}

// WithCodec selects the envelope codec for outbound messages. Inbound messages
// are decoded with the codec they declare.
func WithCodec(t codec.CodecType) Option {
	return func(a *Adapter) { a.codec = codec.GetCodec(t) }
}

// WithErrorHandler receives locally caught send failures.
func WithErrorHandler(fn func(error)) Option {
	return func(a *Adapter) { a.onError = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithDebug logs every send, receive and drop.
func WithDebug(debug bool) Option {
	return func(a *Adapter) { a.debug = debug }
}

// NewInitiator builds the adapter for the side that already holds its peer reference.
func NewInitiator(prim Primitive, peer Peer, opts ...Option) *Adapter {
	return newAdapter(prim, RoleInitiator, peer, opts)
}

// NewEmbedded builds the adapter for the embedded side. The peer is found via
// loc; when there is none the side is not actually embedded, which is a
// configuration error reported as ErrNotEmbedded.
func NewEmbedded(ctx context.Context, prim Primitive, loc Locator, opts ...Option) (*Adapter, error) {
	if loc == nil {
		return nil, ErrNotEmbedded
	}
	peer, err := loc.Locate(ctx)
	if err != nil {
		if errors.Is(err, ErrNotEmbedded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNotEmbedded, err)
	}
	if peer.ID == "" {
		return nil, ErrNotEmbedded
	}
	return newAdapter(prim, RoleEmbedded, peer, opts), nil
}

func newAdapter(prim Primitive, role Role, peer Peer, opts []Option) *Adapter {
	a := &Adapter{
		prim:         prim,
		peer:         peer,
		targetOrigin: AnyOrigin,
		codec:        &codec.JSONCodec{},
		logger:       logging.For("transport"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("role", role.String()).Str("peer", peer.ID).Logger()
	return a
}

// Peer returns the peer this adapter is bound to.
func (a *Adapter) Peer() Peer {
	return a.peer
}

// SendEnvelope encodes env and hands it to the primitive. Failures are reported
// to the error handler and returned; the envelope is never retried.
func (a *Adapter) SendEnvelope(env *message.Envelope) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := a.codec.Encode(env)
	if err != nil {
		err = fmt.Errorf("transport: encode %s envelope: %w", env.Kind, err)
		a.report(err)
		return err
	}
	if err := a.deliver(Outbound{
		Target:       a.peer.ID,
		TargetOrigin: a.targetOrigin,
		Codec:        a.codec.Type(),
		Data:         data,
	}); err != nil {
		a.report(err)
		return err
	}
	if a.debug {
		a.logger.Debug().Str("kind", string(env.Kind)).Str("id", env.ID).Str("method", env.Method).Msg("send")
	}
	return nil
}

// deliver calls the primitive, turning a panic into an error.
func (a *Adapter) deliver(out Outbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDeliver, r)
		}
	}()
	if err := a.prim.Deliver(out); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliver, err)
	}
	return nil
}

func (a *Adapter) report(err error) {
	a.logger.Warn().Err(err).Msg("send failed")
	if a.onError != nil {
		a.onError(err)
	}
}

// OnEnvelope sets the inbound callback and subscribes to the primitive on
// first use. Calling it again replaces the callback.
func (a *Adapter) OnEnvelope(fn func(*message.Envelope)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.handler = fn
	if a.unsubscribe == nil {
		a.unsubscribe = a.prim.Subscribe(a.receive)
	}
}

func (a *Adapter) receive(in Inbound) {
	if !MatchOrigin(a.expectedOrigin, in.Origin) {
		a.drop("origin mismatch", in)
		return
	}
	if in.Source != a.peer.ID {
		a.drop("source mismatch", in)
		return
	}
	var env message.Envelope
	if err := codec.GetCodec(in.Codec).Decode(in.Data, &env); err != nil {
		a.drop("undecodable", in)
		return
	}
	if !env.Kind.Valid() {
		a.drop("unknown kind", in)
		return
	}

	a.mu.Lock()
	handler, closed := a.handler, a.closed
	a.mu.Unlock()
	if closed || handler == nil {
		return
	}
	if a.debug {
		a.logger.Debug().Str("kind", string(env.Kind)).Str("id", env.ID).Str("method", env.Method).Msg("receive")
	}
	handler(&env)
}

func (a *Adapter) drop(reason string, in Inbound) {
	if a.debug {
		a.logger.Debug().Str("reason", reason).Str("origin", in.Origin).Str("source", in.Source).Msg("drop")
	}
}

// Close unsubscribes from the primitive. Safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.handler = nil
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	return nil
}
