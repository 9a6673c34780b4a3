package test

import (
	"context"
	"net"
	"testing"

	"github.com/mineclover/iframe-remote/codec"
	"github.com/mineclover/iframe-remote/message"
	"github.com/mineclover/iframe-remote/rpc"
	"github.com/mineclover/iframe-remote/transport"
)

// ---- Setup 公共函数 ----

// setupBus 内存 Bus 上的一对 engine
func setupBus(b *testing.B) *rpc.Engine {
	bus := transport.NewBus()
	hostEp, err := bus.Open(hostPeer)
	if err != nil {
		b.Fatal(err)
	}
	frameEp, err := bus.Embed(hostEp, framePeer)
	if err != nil {
		b.Fatal(err)
	}
	host := rpc.NewHost(hostEp, frameEp.Peer())
	frame, err := rpc.NewFrame(context.Background(), frameEp, frameEp)
	if err != nil {
		b.Fatal(err)
	}
	if _, err := frame.RegisterService("", &Arith{}); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		host.Destroy()
		frame.Destroy()
	})
	return host
}

// setupStream net.Pipe 上的一对 engine，走完整的帧格式
func setupStream(b *testing.B, ct codec.CodecType) *rpc.Engine {
	hostConn, frameConn := net.Pipe()
	hostStream := transport.NewStream(hostConn, hostPeer, transport.WithHeartbeat(0))
	frameStream := transport.NewStream(frameConn, framePeer, transport.WithHeartbeat(0))

	frame, err := rpc.NewFrame(context.Background(), frameStream, frameStream,
		rpc.WithTransportOptions(transport.WithCodec(ct)))
	if err != nil {
		b.Fatal(err)
	}
	if _, err := frame.RegisterService("", &Arith{}); err != nil {
		b.Fatal(err)
	}
	remote, err := hostStream.Locate(context.Background())
	if err != nil {
		b.Fatal(err)
	}
	host := rpc.NewHost(hostStream, remote, rpc.WithTransportOptions(transport.WithCodec(ct)))
	b.Cleanup(func() {
		host.Destroy()
		frame.Destroy()
		hostStream.Close()
		frameStream.Close()
	})
	return host
}

// ---- Benchmark ----

// 场景1: 单 goroutine 串行调用
func BenchmarkSerialCall(b *testing.B) {
	host := setupBus(b)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := host.Call(context.Background(), "Arith.Add", 1, 2); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景2: 多 goroutine 并发调用（同一条 stream 上按 id 关联）
func BenchmarkConcurrentCall(b *testing.B) {
	host := setupStream(b, codec.CodecTypeJSON)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := host.Call(context.Background(), "Arith.Add", 1, 2); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// 场景3: Binary codec 的 stream 调用
func BenchmarkStreamCallBinary(b *testing.B) {
	host := setupStream(b, codec.CodecTypeBinary)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := host.Call(context.Background(), "Arith.Add", 1, 2); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkCodec(b *testing.B, ct codec.CodecType) {
	cdc := codec.GetCodec(ct)
	env, err := message.NewCall("bench", "Arith.Add", 1, 2)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(env)
		var out message.Envelope
		cdc.Decode(data, &out)
	}
}

// 场景4: JSON 编解码性能（不走网络，纯 codec）
func BenchmarkCodecJSON(b *testing.B) {
	benchmarkCodec(b, codec.CodecTypeJSON)
}

// 场景5: Binary 编解码性能（不走网络，纯 codec）
func BenchmarkCodecBinary(b *testing.B) {
	benchmarkCodec(b, codec.CodecTypeBinary)
}
