// Package protocol implements the frame format used by the stream transport.
//
// A byte stream (TCP, pipes, stdio) has no message boundaries, so every envelope
// travels as a fixed 14-byte header followed by the sender's origin, the sender's
// source id, and the encoded envelope. The receiver reads the header first to
// learn the three lengths, then reads exactly that many bytes. Origin and source
// ride in every frame so the transport adapter can filter per message.
//
// Frame format:
//
//	0      3  4  5  6     8     10        14
//	┌──────┬──┬──┬──┬─────┬─────┬─────────┬────────┬────────┬──────────┐
//	│magic │v │ct│ft│ oLen│ sLen│ bodyLen │ origin │ source │ body ... │
//	│ ifr  │01│  │  │ u16 │ u16 │  u32    │  oLen  │  sLen  │ bodyLen  │
//	└──────┴──┴──┴──┴─────┴─────┴─────────┴────────┴────────┴──────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Magic number bytes: "ifr".
// Used to reject peers that do not speak this protocol.
const (
	MagicNumber byte = 0x69 // 'i'
	MagicByte2  byte = 0x66 // 'f'
	MagicByte3  byte = 0x72 // 'r'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (frameType) + 2 (originLen) + 2 (sourceLen) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame body so a corrupt length cannot force a huge allocation.
	MaxBodyLen = 16 << 20
)

// FrameType distinguishes data, hello and heartbeat frames.
type FrameType byte

const (
	FrameData      FrameType = 0 // Carries one encoded envelope
	FrameHello     FrameType = 1 // Announces the sender's identity (no body)
	FrameHeartbeat FrameType = 2 // KeepAlive probe (no body)
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header describes one frame. Origin and Source are carried after the fixed
// 14 bytes but decoded into the header because they describe the sender.
type Header struct {
	CodecType byte      // Serialization format of the body: 0=JSON, 1=Binary
	FrameType FrameType // Data, Hello, or Heartbeat
	Origin    string    // Sender origin, checked against the receiver's expected origin
	Source    string    // Sender peer id, checked against the receiver's expected peer
	BodyLen   uint32    // Body length in bytes
}

// Encode writes a complete frame (header + origin + source + body) to w.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different senders will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	if len(h.Origin) > math.MaxUint16 || len(h.Source) > math.MaxUint16 {
		return fmt.Errorf("origin or source too long")
	}
	if len(body) > MaxBodyLen {
		return fmt.Errorf("body too large: %d bytes", len(body))
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(h.Origin)+len(h.Source)+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.FrameType)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(h.Origin)))
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(h.Source)))
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))

	buf = append(buf, h.Origin...)
	buf = append(buf, h.Source...)
	buf = append(buf, body...)

	// One Write per frame so a concurrent reader never sees half a header.
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame from r.
// It validates the magic number, version, codec type, and frame type.
// Uses io.ReadFull to guarantee exactly N bytes are read, preventing partial reads.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	frameType := FrameType(headerBuf[5])
	if frameType != FrameData && frameType != FrameHello && frameType != FrameHeartbeat {
		return nil, nil, fmt.Errorf("unsupported frame type: %d", frameType)
	}

	originLen := binary.BigEndian.Uint16(headerBuf[6:8])
	sourceLen := binary.BigEndian.Uint16(headerBuf[8:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body too large: %d bytes", bodyLen)
	}

	rest := make([]byte, int(originLen)+int(sourceLen)+int(bodyLen))
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		FrameType: frameType,
		Origin:    string(rest[:originLen]),
		Source:    string(rest[originLen : int(originLen)+int(sourceLen)]),
		BodyLen:   bodyLen,
	}, rest[int(originLen)+int(sourceLen):], nil
}
