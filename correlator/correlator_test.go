package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func noSend(string) error { return nil }

func waitErr(t *testing.T, f *Future) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("future did not settle")
	}
	return err
}

func TestIssueResolve(t *testing.T) {
	c := New()
	var sent string
	f := c.Issue(context.Background(), func(id string) error {
		sent = id
		return nil
	}, CallOptions{})
	if sent == "" {
		t.Fatal("send not called with an id")
	}
	if c.Len() != 1 {
		t.Fatalf("expect 1 pending, got %d", c.Len())
	}

	if !c.Resolve(sent, true, json.RawMessage(`{"ok":1}`), "") {
		t.Fatal("resolve should find the pending call")
	}
	res, err := f.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(res) != `{"ok":1}` {
		t.Fatalf("got %s", res)
	}
	if c.Len() != 0 {
		t.Fatal("entry should be removed")
	}
	// 重复响应是 no-op
	if c.Resolve(sent, true, nil, "") {
		t.Fatal("second resolve must be a no-op")
	}
}

func TestResolveUnknown(t *testing.T) {
	c := New()
	if c.Resolve("nope", true, nil, "") {
		t.Fatal("unknown id must not resolve")
	}
}

func TestRemoteError(t *testing.T) {
	c := New()
	var id string
	f := c.Issue(context.Background(), func(s string) error { id = s; return nil }, CallOptions{})
	c.Resolve(id, false, nil, "boom")

	err := waitErr(t, f)
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expect REMOTE_ERROR, got %v", err)
	}
	if err.Error() != "boom" {
		t.Fatalf("expect peer message, got %q", err.Error())
	}

	f = c.Issue(context.Background(), func(s string) error { id = s; return nil }, CallOptions{})
	c.Resolve(id, false, nil, "")
	if err := waitErr(t, f); err.Error() != "Unknown error" {
		t.Fatalf("got %q", err.Error())
	}
}

// 用 fake clock 验证超时恰好在配置的时间点触发
func TestTimeoutExact(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(WithClock(clock))

	var id string
	f := c.Issue(context.Background(), func(s string) error { id = s; return nil }, CallOptions{Timeout: 100 * time.Millisecond})
	clock.BlockUntil(1)

	clock.Advance(99 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if _, done, _ := f.Result(); done {
		t.Fatal("settled before the timeout")
	}

	clock.Advance(time.Millisecond)
	err := waitErr(t, f)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expect TIMEOUT, got %v", err)
	}
	if CodeOf(err) != CodeTimeout {
		t.Fatalf("expect code TIMEOUT, got %q", CodeOf(err))
	}
	if c.Len() != 0 {
		t.Fatal("entry should be removed after timeout")
	}
	// 超时后到达的响应被忽略
	if c.Resolve(id, true, nil, "") {
		t.Fatal("late response must be a no-op")
	}
}

func TestDefaultTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(WithClock(clock), WithTimeout(250*time.Millisecond))
	f := c.Issue(context.Background(), noSend, CallOptions{})
	clock.BlockUntil(1)
	clock.Advance(250 * time.Millisecond)
	if err := waitErr(t, f); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expect TIMEOUT, got %v", err)
	}
}

func TestAbort(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	f := c.Issue(ctx, noSend, CallOptions{})
	cancel()
	if err := waitErr(t, f); !errors.Is(err, ErrAborted) {
		t.Fatalf("expect ABORTED, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatal("entry should be removed after abort")
	}
}

func TestAlreadyAborted(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sent := false
	f := c.Issue(ctx, func(string) error { sent = true; return nil }, CallOptions{})
	if sent {
		t.Fatal("must not send when ctx is already done")
	}
	if _, done, err := f.Result(); !done || !errors.Is(err, ErrAborted) {
		t.Fatalf("expect immediate ABORTED, got done=%v err=%v", done, err)
	}
}

func TestSendError(t *testing.T) {
	c := New()
	cause := errors.New("window gone")
	f := c.Issue(context.Background(), func(string) error { return cause }, CallOptions{})
	err := waitErr(t, f)
	if !errors.Is(err, ErrSend) || !errors.Is(err, cause) {
		t.Fatalf("expect SEND_ERROR wrapping cause, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatal("entry should be removed after send failure")
	}
}

func TestDestroyAll(t *testing.T) {
	c := New()
	c.DestroyAll(nil) // 空表上安全

	c = New()
	var ids []string
	var futures []*Future
	for i := 0; i < 3; i++ {
		futures = append(futures, c.Issue(context.Background(), func(s string) error {
			ids = append(ids, s)
			return nil
		}, CallOptions{}))
	}

	c.DestroyAll(ErrRPCDestroyed)
	for _, f := range futures {
		// 必须同步拒绝
		_, done, err := f.Result()
		if !done || !errors.Is(err, ErrRPCDestroyed) {
			t.Fatalf("expect RPC_DESTROYED, got done=%v err=%v", done, err)
		}
	}
	for _, id := range ids {
		if c.Resolve(id, true, nil, "") {
			t.Fatal("resolve after destroy must be a no-op")
		}
	}
	f := c.Issue(context.Background(), noSend, CallOptions{})
	if _, done, err := f.Result(); !done || !errors.Is(err, ErrRPCDestroyed) {
		t.Fatalf("issue after destroy: done=%v err=%v", done, err)
	}
}

func TestIDCollision(t *testing.T) {
	n := 0
	gen := func() string {
		n++
		if n <= 2 {
			return "same"
		}
		return "fresh"
	}
	c := New(WithIDGenerator(gen))
	var got []string
	send := func(id string) error { got = append(got, id); return nil }
	c.Issue(context.Background(), send, CallOptions{})
	c.Issue(context.Background(), send, CallOptions{})
	if got[0] != "same" || got[1] != "fresh" {
		t.Fatalf("expect regenerated id, got %v", got)
	}
}

// 响应可能在 send 返回之前到达
func TestResolveDuringSend(t *testing.T) {
	c := New()
	f := c.Issue(context.Background(), func(id string) error {
		c.Resolve(id, true, json.RawMessage(`1`), "")
		return nil
	}, CallOptions{})
	res, err := f.Wait(context.Background())
	if err != nil || string(res) != "1" {
		t.Fatalf("got %s %v", res, err)
	}
}

type countingObserver struct {
	mu      sync.Mutex
	issued  int
	settled map[Code]int
}

func (o *countingObserver) CallIssued() {
	o.mu.Lock()
	o.issued++
	o.mu.Unlock()
}

func (o *countingObserver) CallSettled(code Code, _ time.Duration) {
	o.mu.Lock()
	o.settled[code]++
	o.mu.Unlock()
}

func TestObserver(t *testing.T) {
	obs := &countingObserver{settled: make(map[Code]int)}
	c := New(WithObserver(obs))
	var id string
	f := c.Issue(context.Background(), func(s string) error { id = s; return nil }, CallOptions{})
	c.Resolve(id, true, nil, "")
	waitErr(t, f)
	c.Issue(context.Background(), func(string) error { return errors.New("x") }, CallOptions{})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.issued != 2 || obs.settled[""] != 1 || obs.settled[CodeSendError] != 1 {
		t.Fatalf("got issued=%d settled=%v", obs.issued, obs.settled)
	}
}

func TestConcurrentIssue(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := c.Issue(context.Background(), func(id string) error {
				go c.Resolve(id, true, json.RawMessage(`true`), "")
				return nil
			}, CallOptions{})
			if _, err := f.Wait(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if c.Len() != 0 {
		t.Fatalf("expect empty table, got %d", c.Len())
	}
}
