// Package codec serializes envelopes for the transport.
//
// JSON is the interop format: peers built independently must agree on it, so it
// is the default everywhere. The binary codec is a compact alternative for
// primitives where both ends are this library (e.g. the stream transport).
package codec

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

// Valid reports whether t names a known codec.
func (t CodecType) Valid() bool {
	return t == CodecTypeJSON || t == CodecTypeBinary
}

func (t CodecType) String() string {
	if t == CodecTypeBinary {
		return "binary"
	}
	return "json"
}

// ParseCodecType maps a config name to a codec type. Unknown names fall back to JSON.
func ParseCodecType(name string) CodecType {
	if name == "binary" {
		return CodecTypeBinary
	}
	return CodecTypeJSON
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeBinary {
		return &BinaryCodec{}
	}

	return &JSONCodec{}
}
