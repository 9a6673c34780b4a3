package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mineclover/iframe-remote/codec"
	"github.com/mineclover/iframe-remote/logging"
	"github.com/mineclover/iframe-remote/message"
)

// Mailbox defaults.
const (
	DefaultMailboxPrefix  = "/iframe-remote"
	DefaultMailboxTTL     = 30 // seconds an undelivered message survives
	defaultMailboxTimeout = 3 * time.Second
)

// EtcdMailbox delivers messages through etcd: every peer watches its own inbox
//
//	Key:   {prefix}/inbox/{peerID}/{messageID}
//	Value: JSON-encoded mailboxPacket
//
// Messages are written with a TTL lease so a peer that never comes back does
// not leave them behind; the receiver deletes each key once it has been read.
type EtcdMailbox struct {
	client  *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	self    Peer
	prefix  string
	ttl     int64
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	subs    map[uint64]func(Inbound)
	nextSub uint64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool

	deferWatch bool
	started    bool
}

type mailboxPacket struct {
	Origin       string          `json:"origin"`
	Source       string          `json:"source"`
	TargetOrigin string          `json:"target_origin,omitempty"`
	Codec        codec.CodecType `json:"codec"`
	Data         []byte          `json:"data"`
}

type MailboxOption func(*EtcdMailbox)

func WithMailboxPrefix(prefix string) MailboxOption {
	return func(m *EtcdMailbox) { m.prefix = prefix }
}

// WithMailboxTTL sets the lease TTL in seconds for undelivered messages.
func WithMailboxTTL(ttl int64) MailboxOption {
	return func(m *EtcdMailbox) { m.ttl = ttl }
}

func WithMailboxLogger(l zerolog.Logger) MailboxOption {
	return func(m *EtcdMailbox) { m.logger = l }
}

// WithDeferredWatch leaves the inbox unread until Start, so subscribers
// can finish their setup first. Messages written meanwhile stay in etcd.
func WithDeferredWatch() MailboxOption {
	return func(m *EtcdMailbox) { m.deferWatch = true }
}

// NewEtcdMailbox binds a mailbox for self on an existing etcd client.
func NewEtcdMailbox(client *clientv3.Client, self Peer, opts ...MailboxOption) *EtcdMailbox {
	m := &EtcdMailbox{
		client:  client,
		self:    self,
		prefix:  DefaultMailboxPrefix,
		ttl:     DefaultMailboxTTL,
		timeout: defaultMailboxTimeout,
		logger:  logging.For("etcd-mailbox"),
		subs:    make(map[uint64]func(Inbound)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *EtcdMailbox) inbox(peerID string) string {
	return m.prefix + "/inbox/" + peerID + "/"
}

// Deliver writes the message into the target's inbox.
func (m *EtcdMailbox) Deliver(out Outbound) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	val, err := json.Marshal(mailboxPacket{
		Origin:       m.self.Origin,
		Source:       m.self.ID,
		TargetOrigin: out.TargetOrigin,
		Codec:        out.Codec,
		Data:         out.Data,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	lease, err := m.client.Grant(ctx, m.ttl)
	if err != nil {
		return err
	}
	_, err = m.client.Put(ctx, m.inbox(out.Target)+message.NewID(), string(val), clientv3.WithLease(lease.ID))
	return err
}

// Subscribe starts watching the inbox on first use.
func (m *EtcdMailbox) Subscribe(fn func(Inbound)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	if !m.deferWatch || m.started {
		m.watchLocked()
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Start begins reading the inbox of a mailbox built with WithDeferredWatch.
func (m *EtcdMailbox) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.started = true
	if len(m.subs) > 0 {
		m.watchLocked()
	}
}

func (m *EtcdMailbox) watchLocked() {
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.watchLoop(ctx)
}

// watchLoop consumes PUT events under our inbox. Messages that were written
// before the watch started are picked up by an initial Get.
func (m *EtcdMailbox) watchLoop(ctx context.Context) {
	defer m.wg.Done()
	prefix := m.inbox(m.self.ID)

	rev := int64(0)
	if resp, err := m.client.Get(ctx, prefix, clientv3.WithPrefix()); err == nil {
		for _, kv := range resp.Kvs {
			m.consume(ctx, kv.Key, kv.Value)
		}
		rev = resp.Header.Revision + 1
	} else if ctx.Err() == nil {
		m.logger.Warn().Err(err).Msg("initial inbox read failed")
	}

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev))
	}
	for resp := range m.client.Watch(ctx, prefix, opts...) {
		if err := resp.Err(); err != nil {
			m.logger.Warn().Err(err).Msg("inbox watch error")
			continue
		}
		for _, ev := range resp.Events {
			if ev.Type != clientv3.EventTypePut {
				continue
			}
			m.consume(ctx, ev.Kv.Key, ev.Kv.Value)
		}
	}
}

func (m *EtcdMailbox) consume(ctx context.Context, key, value []byte) {
	delCtx, cancel := context.WithTimeout(ctx, m.timeout)
	_, err := m.client.Delete(delCtx, string(key))
	cancel()
	if err != nil {
		m.logger.Debug().Err(err).Str("key", string(key)).Msg("consume delete failed")
	}

	var pkt mailboxPacket
	if err := json.Unmarshal(value, &pkt); err != nil {
		return // Skip malformed entries
	}
	if !MatchOrigin(pkt.TargetOrigin, m.self.Origin) {
		return
	}
	in := Inbound{Origin: pkt.Origin, Source: pkt.Source, Codec: pkt.Codec, Data: pkt.Data}

	m.mu.Lock()
	subs := make([]func(Inbound), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(in)
	}
}

// Close stops the watch. The etcd client stays open; it belongs to the caller.
func (m *EtcdMailbox) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	return nil
}
