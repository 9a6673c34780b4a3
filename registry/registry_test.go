package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mineclover/iframe-remote/message"
	"github.com/mineclover/iframe-remote/transport"
)

func TestMemoryRegistry(t *testing.T) {
	reg := NewMemoryRegistry()
	watch := reg.Watch("demo")

	reg.Register("demo", PeerInstance{ID: "h", Role: RoleHost, Addr: "a:1"}, 10)
	reg.Register("demo", PeerInstance{ID: "h", Role: RoleHost, Addr: "a:2"}, 10) // 同 ID 覆盖
	reg.Register("demo", PeerInstance{ID: "f", Role: RoleFrame}, 10)

	select {
	case list := <-watch:
		if len(list) != 2 {
			t.Fatalf("expect latest list of 2, got %d", len(list))
		}
	case <-time.After(time.Second):
		t.Fatal("no watch event")
	}

	host, err := Host(reg, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if host.Addr != "a:2" {
		t.Fatalf("expect replaced addr a:2, got %s", host.Addr)
	}

	reg.Deregister("demo", "h")
	if _, err := Host(reg, "demo"); !errors.Is(err, ErrNoHost) {
		t.Fatalf("expect ErrNoHost, got %v", err)
	}
}

func TestParentLocator(t *testing.T) {
	reg := NewMemoryRegistry()
	loc := ParentLocator{Registry: reg, Channel: "demo"}

	if _, err := loc.Locate(context.Background()); !errors.Is(err, transport.ErrNotEmbedded) {
		t.Fatalf("expect ErrNotEmbedded, got %v", err)
	}

	reg.Register("demo", PeerInstance{ID: "host", Origin: "https://host", Role: RoleHost}, 10)
	peer, err := loc.Locate(context.Background())
	if err != nil || peer.ID != "host" || peer.Origin != "https://host" {
		t.Fatalf("got %+v %v", peer, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := loc.Locate(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
}

// frame 通过 registry 找到 host，然后在 Bus 上通信
func TestParentLocatorEmbedsOnBus(t *testing.T) {
	reg := NewMemoryRegistry()
	bus := transport.NewBus()
	hostEp, _ := bus.Open(transport.Peer{ID: "host", Origin: "https://host"})
	frameEp, _ := bus.Open(transport.Peer{ID: "frame", Origin: "https://frame"})
	reg.Register("demo", PeerInstance{ID: "host", Origin: "https://host", Role: RoleHost}, 10)

	frame, err := transport.NewEmbedded(context.Background(), frameEp, ParentLocator{Registry: reg, Channel: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	defer frame.Close()
	host := transport.NewInitiator(hostEp, frameEp.Peer())
	defer host.Close()

	got := make(chan *message.Envelope, 1)
	host.OnEnvelope(func(env *message.Envelope) { got <- env })
	env, _ := message.NewMessage("ready")
	if err := frame.SendEnvelope(env); err != nil {
		t.Fatal(err)
	}
	select {
	case env := <-got:
		if string(env.Payload) != `"ready"` {
			t.Fatalf("got %s", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}
