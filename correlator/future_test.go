package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFutureSettleOnce(t *testing.T) {
	f := newFuture()
	if _, done, _ := f.Result(); done {
		t.Fatal("new future should be pending")
	}
	if !f.settle(json.RawMessage(`1`), nil) {
		t.Fatal("first settle should win")
	}
	if f.settle(nil, errors.New("late")) {
		t.Fatal("second settle must be ignored")
	}
	res, done, err := f.Result()
	if !done || err != nil || string(res) != "1" {
		t.Fatalf("got %s %v %v", res, done, err)
	}
}

func TestFutureOnDone(t *testing.T) {
	f := newFuture()
	got := make(chan error, 1)
	f.OnDone(func(_ json.RawMessage, err error) { got <- err })
	f.settle(nil, ErrTimeout)
	select {
	case err := <-got:
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not run")
	}
}

func TestFutureWaitContext(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline, got %v", err)
	}
}

func TestErrorIsByCode(t *testing.T) {
	err := NewError(CodeTimeout, "Request timeout after 100ms", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatal("expect match by code")
	}
	if errors.Is(err, ErrAborted) {
		t.Fatal("different code must not match")
	}
	if errors.Is(ErrDestroyed, ErrRPCDestroyed) {
		t.Fatal("DESTROYED and RPC_DESTROYED must be distinguishable")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatal("plain error has no code")
	}
}
