package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mineclover/iframe-remote/message"
)

var (
	errNotEnvelope = errors.New("BinaryCodec: v must be *message.Envelope")
	errTruncated   = errors.New("BinaryCodec: truncated envelope")
)

// kind codes, one byte each on the wire
var kindCodes = []message.Kind{
	message.KindMessage,
	message.KindRequest,
	message.KindResponse,
	message.KindRPCCall,
	message.KindRPCResponse,
}

const (
	flagHasSuccess byte = 1 << 0
	flagSuccess    byte = 1 << 1
)

// BinaryCodec lays an envelope out as:
//
//	kind(1) flags(1) timestamp(8) id(2+n) method(2+n) error(2+n)
//	payload(4+n) result(4+n) argc(2) { arg(4+n) }...
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	env, ok := v.(*message.Envelope)
	if !ok {
		return nil, errNotEnvelope
	}

	kindCode := -1
	for i, k := range kindCodes {
		if k == env.Kind {
			kindCode = i
		}
	}
	if kindCode < 0 {
		return nil, fmt.Errorf("BinaryCodec: unknown kind %q", env.Kind)
	}
	for _, s := range []string{env.ID, env.Method, env.Error} {
		if len(s) > math.MaxUint16 {
			return nil, fmt.Errorf("BinaryCodec: field too long (%d bytes)", len(s))
		}
	}
	if len(env.Args) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: too many args (%d)", len(env.Args))
	}

	// Calculate the length of the envelope
	total := 1 + 1 + 8 + 2 + len(env.ID) + 2 + len(env.Method) + 2 + len(env.Error) +
		4 + len(env.Payload) + 4 + len(env.Result) + 2
	for _, arg := range env.Args {
		total += 4 + len(arg)
	}
	buf := make([]byte, 0, total)

	var flags byte
	if env.Success != nil {
		flags |= flagHasSuccess
		if *env.Success {
			flags |= flagSuccess
		}
	}
	buf = append(buf, byte(kindCode), flags)
	buf = binary.BigEndian.AppendUint64(buf, uint64(env.Timestamp))
	buf = appendString(buf, env.ID)
	buf = appendString(buf, env.Method)
	buf = appendString(buf, env.Error)
	buf = appendBlob(buf, env.Payload)
	buf = appendBlob(buf, env.Result)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.Args)))
	for _, arg := range env.Args {
		buf = appendBlob(buf, arg)
	}
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	env, ok := v.(*message.Envelope)
	if !ok {
		return errNotEnvelope
	}
	r := reader{data: data}

	kindCode := r.byte()
	flags := r.byte()
	ts := r.uint64()
	id := r.string()
	method := r.string()
	errMsg := r.string()
	payload := r.blob()
	result := r.blob()
	argc := int(r.uint16())
	var args []json.RawMessage
	for i := 0; i < argc && r.err == nil; i++ {
		args = append(args, r.blob())
	}
	if r.err != nil {
		return r.err
	}
	if int(kindCode) >= len(kindCodes) {
		return fmt.Errorf("BinaryCodec: unknown kind code %d", kindCode)
	}

	*env = message.Envelope{
		Kind:      kindCodes[kindCode],
		ID:        id,
		Timestamp: int64(ts),
		Method:    method,
		Error:     errMsg,
		Payload:   payload,
		Result:    result,
		Args:      args,
	}
	if flags&flagHasSuccess != 0 {
		success := flags&flagSuccess != 0
		env.Success = &success
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBlob(buf []byte, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// reader walks a binary envelope, remembering the first short read.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = errTruncated
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) string() string {
	return string(r.take(int(r.uint16())))
}

func (r *reader) blob() json.RawMessage {
	n := r.uint32()
	b := r.take(int(n))
	if len(b) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
