package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mineclover/iframe-remote/correlator"
	"github.com/mineclover/iframe-remote/logging/testlog"
	"github.com/mineclover/iframe-remote/message"
	"github.com/mineclover/iframe-remote/middleware"
	"github.com/mineclover/iframe-remote/transport"
)

const (
	hostOrigin  = "https://host.example"
	frameOrigin = "https://frame.example"
)

type channel struct {
	bus     *transport.Bus
	hostEp  *transport.Endpoint
	frameEp *transport.Endpoint
}

func newChannel(t *testing.T) *channel {
	t.Helper()
	bus := transport.NewBus()
	hostEp, err := bus.Open(transport.Peer{ID: "host", Origin: hostOrigin})
	if err != nil {
		t.Fatal(err)
	}
	frameEp, err := bus.Embed(hostEp, transport.Peer{ID: "frame", Origin: frameOrigin})
	if err != nil {
		t.Fatal(err)
	}
	return &channel{bus: bus, hostEp: hostEp, frameEp: frameEp}
}

func (ch *channel) pair(t *testing.T, hostOpts, frameOpts []Option) (*Communicator, *Communicator) {
	t.Helper()
	host := NewHost(ch.hostEp, ch.frameEp.Peer(), hostOpts...)
	frame, err := NewFrame(context.Background(), ch.frameEp, ch.frameEp, frameOpts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		host.Destroy()
		frame.Destroy()
	})
	return host, frame
}

func TestSendMessage(t *testing.T) {
	testlog.Start(t)
	got := make(chan json.RawMessage, 2)
	host, _ := newChannel(t).pair(t, nil, []Option{
		WithOnMessage(func(p json.RawMessage) { got <- p }),
	})

	host.Send(map[string]string{"hello": "frame"})
	select {
	case p := <-got:
		if string(p) != `{"hello":"frame"}` {
			t.Fatalf("got %s", p)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	// 恰好一次
	select {
	case p := <-got:
		t.Fatalf("duplicate delivery %s", p)
	case <-time.After(50 * time.Millisecond):
	}
}

// parent 发 request({type:'getData'})，child 的 handler 返回 {result:'success'}
func TestRequestGetData(t *testing.T) {
	testlog.Start(t)
	host, _ := newChannel(t).pair(t, nil, []Option{
		WithOnRequest(func(ctx context.Context, payload json.RawMessage) (any, error) {
			var req struct{ Type string }
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, err
			}
			if req.Type != "getData" {
				return nil, errors.New("unexpected type " + req.Type)
			}
			return map[string]string{"result": "success"}, nil
		}),
	})

	res, err := host.Request(context.Background(), map[string]string{"type": "getData"})
	if err != nil {
		t.Fatal(err)
	}
	if string(res) != `{"result":"success"}` {
		t.Fatalf("got %s", res)
	}
	if host.Pending() != 0 {
		t.Fatal("pending entry not retired")
	}
}

// 双向：frame 也可以向 host 发请求
func TestRequestFromFrame(t *testing.T) {
	testlog.Start(t)
	_, frame := newChannel(t).pair(t, []Option{
		WithOnRequest(func(ctx context.Context, payload json.RawMessage) (any, error) {
			return "pong", nil
		}),
	}, nil)

	res, err := frame.Request(context.Background(), "ping")
	if err != nil {
		t.Fatal(err)
	}
	if string(res) != `"pong"` {
		t.Fatalf("got %s", res)
	}
}

func TestRequestHandlerError(t *testing.T) {
	testlog.Start(t)
	host, _ := newChannel(t).pair(t, nil, []Option{
		WithOnRequest(func(ctx context.Context, payload json.RawMessage) (any, error) {
			return nil, errors.New("nope")
		}),
	})

	_, err := host.Request(context.Background(), nil)
	if !errors.Is(err, correlator.ErrRemote) || err.Error() != "nope" {
		t.Fatalf("expect remote error 'nope', got %v", err)
	}
}

func TestRequestHandlerPanics(t *testing.T) {
	testlog.Start(t)
	host, _ := newChannel(t).pair(t, nil, []Option{
		WithOnRequest(func(ctx context.Context, payload json.RawMessage) (any, error) {
			panic("handler blew up")
		}),
	})
	_, err := host.Request(context.Background(), nil)
	if err == nil || err.Error() != "handler blew up" {
		t.Fatalf("got %v", err)
	}
}

func TestRequestEmptyErrorMessage(t *testing.T) {
	testlog.Start(t)
	host, _ := newChannel(t).pair(t, nil, []Option{
		WithOnRequest(func(ctx context.Context, payload json.RawMessage) (any, error) {
			return nil, errors.New("")
		}),
	})
	_, err := host.Request(context.Background(), nil)
	if err == nil || err.Error() != errUnknown {
		t.Fatalf("expect %q, got %v", errUnknown, err)
	}
}

func TestNoRequestHandler(t *testing.T) {
	testlog.Start(t)
	host, _ := newChannel(t).pair(t, nil, nil)
	_, err := host.Request(context.Background(), "anything")
	if err == nil || err.Error() != "No request handler configured" {
		t.Fatalf("got %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	testlog.Start(t)
	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	defer close(release)
	host, _ := newChannel(t).pair(t, []Option{WithClock(clock), WithTimeout(time.Second)}, []Option{
		WithOnRequest(func(ctx context.Context, payload json.RawMessage) (any, error) {
			<-release
			return nil, nil
		}),
	})

	f := host.RequestAsync(context.Background(), "slow", WithCallTimeout(300*time.Millisecond))
	clock.BlockUntil(1)
	clock.Advance(299 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if _, done, _ := f.Result(); done {
		t.Fatal("settled early")
	}
	clock.Advance(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, correlator.ErrTimeout) {
		t.Fatalf("expect TIMEOUT, got %v", err)
	}
}

func TestRequestAbort(t *testing.T) {
	testlog.Start(t)
	host, _ := newChannel(t).pair(t, nil, []Option{
		WithOnRequest(func(ctx context.Context, payload json.RawMessage) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := host.Request(ctx, nil); !errors.Is(err, correlator.ErrAborted) {
		t.Fatalf("expect ABORTED, got %v", err)
	}
}

func TestDestroyRejectsPending(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t)
	reqSeen := make(chan *message.Envelope, 1)

	// frame 端直接接 adapter，收到请求但不回复
	raw, err := transport.NewEmbedded(context.Background(), ch.frameEp, ch.frameEp)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	raw.OnEnvelope(func(env *message.Envelope) { reqSeen <- env })

	host := NewHost(ch.hostEp, ch.frameEp.Peer())
	f := host.RequestAsync(context.Background(), "x")
	var req *message.Envelope
	select {
	case req = <-reqSeen:
	case <-time.After(time.Second):
		t.Fatal("request not sent")
	}

	host.Destroy()
	_, done, err := f.Result()
	if !done || !errors.Is(err, correlator.ErrDestroyed) {
		t.Fatalf("expect DESTROYED synchronously, got done=%v err=%v", done, err)
	}
	if err.Error() != "Communicator destroyed" {
		t.Fatalf("got %q", err.Error())
	}

	// 销毁后到达的响应没有任何效果
	reply, _ := req.Reply("late")
	if err := raw.SendEnvelope(reply); err != nil {
		t.Fatal(err)
	}
	host.Destroy()

	if _, err := host.Request(context.Background(), "after"); !errors.Is(err, correlator.ErrDestroyed) {
		t.Fatalf("expect DESTROYED after destroy, got %v", err)
	}
}

func TestExpectedOriginFilter(t *testing.T) {
	testlog.Start(t)
	var mu sync.Mutex
	calls := 0
	count := func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}
	host, _ := newChannel(t).pair(t, nil, []Option{
		WithTransportOptions(transport.WithExpectedOrigin("https://trusted.example")),
		WithOnMessage(func(json.RawMessage) { count() }),
		WithOnRequest(func(context.Context, json.RawMessage) (any, error) { count(); return nil, nil }),
	})

	host.Send("hi")
	_, err := host.Request(context.Background(), "q", WithCallTimeout(50*time.Millisecond))
	if !errors.Is(err, correlator.ErrTimeout) {
		t.Fatalf("expect TIMEOUT since the frame never answers, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("handlers reached %d times", calls)
	}
}

func TestSendFailureReported(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t)
	errs := make(chan error, 4)
	host := NewHost(ch.hostEp, transport.Peer{ID: "missing"}, WithOnError(func(err error) { errs <- err }))
	defer host.Destroy()

	host.Send("lost")
	if err := <-errs; !errors.Is(err, transport.ErrUnknownPeer) {
		t.Fatalf("expect ErrUnknownPeer, got %v", err)
	}

	_, err := host.Request(context.Background(), "lost")
	if !errors.Is(err, correlator.ErrSend) {
		t.Fatalf("expect SEND_ERROR, got %v", err)
	}
	if !errors.Is(<-errs, transport.ErrUnknownPeer) {
		t.Fatal("request send failure should be reported too")
	}

	host.Send(func() {}) // 不可序列化
	if err := <-errs; err == nil {
		t.Fatal("expect marshal error")
	}
}

func TestNewFrameNotEmbedded(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t)
	if _, err := NewFrame(context.Background(), ch.hostEp, ch.hostEp); !errors.Is(err, transport.ErrNotEmbedded) {
		t.Fatalf("expect ErrNotEmbedded, got %v", err)
	}
}

func TestRequestMiddleware(t *testing.T) {
	testlog.Start(t)
	host, _ := newChannel(t).pair(t, nil, []Option{
		WithMiddleware(middleware.RateLimitMiddleware(0.001, 1)),
		WithOnRequest(func(context.Context, json.RawMessage) (any, error) { return 1, nil }),
	})
	if _, err := host.Request(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := host.Request(context.Background(), nil); err == nil || err.Error() != "rate limit exceeded" {
		t.Fatalf("expect rate limit failure, got %v", err)
	}
}

func TestMessageAndRPCKindsIgnored(t *testing.T) {
	testlog.Start(t)
	ch := newChannel(t)
	got := make(chan json.RawMessage, 1)
	frame, err := NewFrame(context.Background(), ch.frameEp, ch.frameEp, WithOnMessage(func(p json.RawMessage) { got <- p }))
	if err != nil {
		t.Fatal(err)
	}
	defer frame.Destroy()

	raw := transport.NewInitiator(ch.hostEp, ch.frameEp.Peer())
	defer raw.Close()
	call, _ := message.NewCall("c1", "add", 1, 2)
	if err := raw.SendEnvelope(call); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-got:
		t.Fatalf("rpc call reached onMessage: %s", p)
	case <-time.After(50 * time.Millisecond):
	}
}
