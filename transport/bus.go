package transport

import (
	"context"
	"fmt"
	"sync"
)

// Bus is an in-process message channel shared by any number of endpoints,
// the way windows of one page share postMessage. Every endpoint has a single
// receive path; adapters on the same endpoint all see every inbound message
// and rely on source filtering to pick out their own peer.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

func NewBus() *Bus {
	return &Bus{endpoints: make(map[string]*Endpoint)}
}

// Open registers a top-level endpoint with no parent.
func (b *Bus) Open(p Peer) (*Endpoint, error) {
	return b.open(p, nil)
}

// Embed registers an endpoint whose enclosing peer is parent.
func (b *Bus) Embed(parent *Endpoint, p Peer) (*Endpoint, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: nil parent", ErrUnknownPeer)
	}
	ref := parent.self
	return b.open(p, &ref)
}

func (b *Bus) open(p Peer, parent *Peer) (*Endpoint, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("transport: peer id required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.endpoints[p.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerExists, p.ID)
	}
	e := &Endpoint{
		bus:    b,
		self:   p,
		parent: parent,
		subs:   make(map[uint64]func(Inbound)),
	}
	b.endpoints[p.ID] = e
	return e, nil
}

func (b *Bus) lookup(id string) (*Endpoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.endpoints[id]
	return e, ok
}

func (b *Bus) remove(e *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.endpoints[e.self.ID] == e {
		delete(b.endpoints, e.self.ID)
	}
}

// Endpoint is one participant on a Bus. It implements Primitive, and Locator
// when it was created with Embed.
type Endpoint struct {
	bus    *Bus
	self   Peer
	parent *Peer

	mu      sync.Mutex
	subs    map[uint64]func(Inbound)
	nextSub uint64
	closed  bool
}

func (e *Endpoint) Peer() Peer {
	return e.self
}

// Deliver hands out to the target endpoint. The sender's own identity is
// stamped on the message; callers cannot choose it. A target-origin mismatch
// drops the message silently.
func (e *Endpoint) Deliver(out Outbound) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	target, ok := e.bus.lookup(out.Target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, out.Target)
	}
	if !MatchOrigin(out.TargetOrigin, target.self.Origin) {
		return nil
	}

	data := make([]byte, len(out.Data))
	copy(data, out.Data)
	target.dispatch(Inbound{
		Origin: e.self.Origin,
		Source: e.self.ID,
		Codec:  out.Codec,
		Data:   data,
	})
	return nil
}

// dispatch runs every subscriber on its own goroutine; there is no ordering contract.
func (e *Endpoint) dispatch(in Inbound) {
	e.mu.Lock()
	subs := make([]func(Inbound), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		go fn(in)
	}
}

func (e *Endpoint) Subscribe(fn func(Inbound)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// Locate returns the enclosing endpoint's identity.
func (e *Endpoint) Locate(ctx context.Context) (Peer, error) {
	if e.parent == nil {
		return Peer{}, ErrNotEmbedded
	}
	return *e.parent, nil
}

// Close removes the endpoint from the bus; later deliveries to it fail with ErrUnknownPeer.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.subs = make(map[uint64]func(Inbound))
	e.mu.Unlock()
	e.bus.remove(e)
	return nil
}
