package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mineclover/iframe-remote/codec"
	"github.com/mineclover/iframe-remote/logging"
	"github.com/mineclover/iframe-remote/protocol"
)

// DefaultHeartbeat is the keepalive interval of a Stream.
const DefaultHeartbeat = 30 * time.Second

// Stream runs the channel over a single byte-stream connection.
//
// A background goroutine (recvLoop) reads frames one after another and hands data
// frames to subscribers; writers share the connection under a mutex so frames
// never interleave. Each side announces itself with a hello frame, which is how
// the embedded side learns its peer.
//
//	Deliver ──frame──┐
//	heartbeat ───────┼──→ single conn ──→ peer
//	hello ───────────┘
//
//	recvLoop: ←── frame → hello: record remote / heartbeat: skip / data: subscribers
type Stream struct {
	conn      net.Conn
	self      Peer
	heartbeat time.Duration
	logger    zerolog.Logger
	sending   sync.Mutex // Write lock, every frame is written whole

	mu      sync.Mutex
	subs    map[uint64]func(Inbound)
	nextSub uint64
	remote  Peer
	backlog []Inbound // data frames received before the first subscriber

	delivering sync.Mutex // held while subscribers run, keeps backlog and live frames in order
	deferHello bool
	announce   sync.Once

	hello     chan struct{}
	helloOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

type StreamOption func(*Stream)

// WithHeartbeat sets the keepalive interval; zero disables heartbeats.
func WithHeartbeat(d time.Duration) StreamOption {
	return func(s *Stream) { s.heartbeat = d }
}

func WithStreamLogger(l zerolog.Logger) StreamOption {
	return func(s *Stream) { s.logger = l }
}

// WithDeferredHello holds the hello frame until Announce. A peer that waits
// for the hello before sending then never reaches a side that is still
// registering its handlers.
func WithDeferredHello() StreamOption {
	return func(s *Stream) { s.deferHello = true }
}

// maxBacklog bounds the data frames kept while nothing is subscribed.
const maxBacklog = 256

// NewStream wraps conn and starts the receive and heartbeat loops. The hello
// frame is written asynchronously because synchronous conns (net.Pipe) would
// block until the other side starts reading.
func NewStream(conn net.Conn, self Peer, opts ...StreamOption) *Stream {
	s := &Stream{
		conn:      conn,
		self:      self,
		heartbeat: DefaultHeartbeat,
		logger:    logging.For("stream"),
		subs:      make(map[uint64]func(Inbound)),
		hello:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.recvLoop()
	if !s.deferHello {
		go s.Announce()
	}
	if s.heartbeat > 0 {
		go s.heartbeatLoop(s.heartbeat)
	}
	return s
}

// Deliver writes one data frame. The target id is implied by the connection;
// the target origin is checked against the remote hello when it has arrived.
func (s *Stream) Deliver(out Outbound) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if remote, ok := s.Remote(); ok && !MatchOrigin(out.TargetOrigin, remote.Origin) {
		return nil
	}
	return s.writeFrame(&protocol.Header{
		CodecType: byte(out.Codec),
		FrameType: protocol.FrameData,
		Origin:    s.self.Origin,
		Source:    s.self.ID,
	}, out.Data)
}

func (s *Stream) writeFrame(h *protocol.Header, body []byte) error {
	s.sending.Lock()
	defer s.sending.Unlock()
	if err := protocol.Encode(s.conn, h, body); err != nil {
		s.shutdown(err)
		return err
	}
	return nil
}

// Announce writes the hello frame. Only the first call has an effect.
func (s *Stream) Announce() {
	s.announce.Do(func() {
		if err := s.writeFrame(&protocol.Header{FrameType: protocol.FrameHello, Origin: s.self.Origin, Source: s.self.ID}, nil); err != nil {
			s.logger.Debug().Err(err).Msg("hello not sent")
		}
	})
}

// Subscribe adds fn. Frames that arrived while nothing was subscribed are
// handed to the first subscriber asynchronously, before any later frame.
func (s *Stream) Subscribe(fn func(Inbound)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	if len(s.backlog) > 0 {
		go s.deliver(nil)
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// recvLoop is the only reader of the connection; frame boundaries can only be
// parsed sequentially. Subscribers run inline so data frames keep their order.
func (s *Stream) recvLoop() {
	for {
		header, body, err := protocol.Decode(s.conn)
		if err != nil {
			s.shutdown(err)
			return
		}

		switch header.FrameType {
		case protocol.FrameHello:
			s.mu.Lock()
			s.remote = Peer{ID: header.Source, Origin: header.Origin}
			s.mu.Unlock()
			s.helloOnce.Do(func() { close(s.hello) })
			s.logger.Debug().Str("remote", header.Source).Str("origin", header.Origin).Msg("hello")
		case protocol.FrameHeartbeat:
			continue
		case protocol.FrameData:
			s.deliver(&Inbound{
				Origin: header.Origin,
				Source: header.Source,
				Codec:  codec.CodecType(header.CodecType),
				Data:   body,
			})
		}
	}
}

// deliver hands the backlog and then in (if any) to the subscribers. With no
// subscriber yet, in joins the backlog instead.
func (s *Stream) deliver(in *Inbound) {
	s.delivering.Lock()
	defer s.delivering.Unlock()

	s.mu.Lock()
	if len(s.subs) == 0 {
		if in != nil {
			if len(s.backlog) < maxBacklog {
				s.backlog = append(s.backlog, *in)
			} else {
				s.logger.Warn().Str("source", in.Source).Msg("backlog full, frame dropped")
			}
		}
		s.mu.Unlock()
		return
	}
	pending := s.backlog
	s.backlog = nil
	if in != nil {
		pending = append(pending, *in)
	}
	subs := make([]func(Inbound), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, msg := range pending {
		for _, fn := range subs {
			fn(msg)
		}
	}
}

// heartbeatLoop keeps idle connections from being reaped by middleboxes.
func (s *Stream) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.writeFrame(&protocol.Header{FrameType: protocol.FrameHeartbeat}, nil); err != nil {
				return
			}
		}
	}
}

// Remote returns the peer announced by the other side, if its hello arrived.
func (s *Stream) Remote() (Peer, bool) {
	select {
	case <-s.hello:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.remote, true
	default:
		return Peer{}, false
	}
}

// Locate waits for the remote hello.
func (s *Stream) Locate(ctx context.Context) (Peer, error) {
	select {
	case <-s.hello:
		p, _ := s.Remote()
		return p, nil
	case <-s.done:
		return Peer{}, ErrClosed
	case <-ctx.Done():
		return Peer{}, ctx.Err()
	}
}

// Done is closed when the connection is gone.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		s.conn.Close()
	})
}

// Close closes the underlying connection.
func (s *Stream) Close() error {
	s.shutdown(ErrClosed)
	return nil
}
