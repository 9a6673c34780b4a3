// Package message defines the envelope exchanged between a host and an embedded frame.
//
// Envelope is the unit for every exchange on the channel. Plain messaging uses the
// message/request/response kinds, the RPC layer uses rpc-call/rpc-response, so both
// can share one channel without their correlation IDs colliding.
package message

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// Kind discriminates envelopes on the wire.
type Kind string

const (
	KindMessage     Kind = "message"      // fire-and-forget, no ID
	KindRequest     Kind = "request"      // expects a KindResponse with the same ID
	KindResponse    Kind = "response"     // answer to a KindRequest
	KindRPCCall     Kind = "rpc-call"     // method + args, expects KindRPCResponse
	KindRPCResponse Kind = "rpc-response" // answer to a KindRPCCall
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindRequest, KindResponse, KindRPCCall, KindRPCResponse:
		return true
	}
	return false
}

// Envelope carries a single message, request, call or reply.
//
//   - message:      Payload is set.
//   - request:      ID and Payload are set.
//   - response:     ID and Success are set, Payload on success, Error on failure.
//   - rpc-call:     ID, Method and Args are set.
//   - rpc-response: ID and Success are set, Result on success, Error on failure.
type Envelope struct {
	Kind      Kind              `json:"kind"`
	ID        string            `json:"id,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"` // unix ms, informational only
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Args      []json.RawMessage `json:"args,omitempty"`
	Method    string            `json:"method,omitempty"`
	Success   *bool             `json:"success,omitempty"`
	Result    json.RawMessage   `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Now returns the envelope timestamp for the current instant.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Marshal encodes v for use as a payload, result or argument. A nil value
// encodes as JSON null so the field survives omitempty.
func Marshal(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if raw == nil {
			return json.RawMessage("null"), nil
		}
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// NewMessage builds a fire-and-forget envelope.
func NewMessage(payload any) (*Envelope, error) {
	raw, err := Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Kind: KindMessage, Timestamp: Now(), Payload: raw}, nil
}

// NewRequest builds a request envelope for the given correlation ID.
func NewRequest(id string, payload any) (*Envelope, error) {
	raw, err := Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Kind: KindRequest, ID: id, Timestamp: Now(), Payload: raw}, nil
}

// NewCall builds an rpc-call envelope with ordered arguments.
func NewCall(id, method string, args ...any) (*Envelope, error) {
	encoded := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		raw, err := Marshal(arg)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, raw)
	}
	return &Envelope{Kind: KindRPCCall, ID: id, Timestamp: Now(), Method: method, Args: encoded}, nil
}

// Succeeded reports the success flag of a reply. A missing flag is a failure.
func (e *Envelope) Succeeded() bool {
	return e.Success != nil && *e.Success
}

// Value returns the success value of a reply: Payload for responses, Result
// for rpc-responses.
func (e *Envelope) Value() json.RawMessage {
	if e.Kind == KindRPCResponse {
		return e.Result
	}
	return e.Payload
}

// replyKind maps a request kind to the kind of its reply.
func (e *Envelope) replyKind() Kind {
	if e.Kind == KindRPCCall {
		return KindRPCResponse
	}
	return KindResponse
}

// Reply builds the success reply to e, keeping its ID.
func (e *Envelope) Reply(value any) (*Envelope, error) {
	raw, err := Marshal(value)
	if err != nil {
		return nil, err
	}
	ok := true
	reply := &Envelope{Kind: e.replyKind(), ID: e.ID, Timestamp: Now(), Success: &ok}
	if reply.Kind == KindRPCResponse {
		reply.Result = raw
	} else {
		reply.Payload = raw
	}
	return reply, nil
}

// MaxErrorLen bounds the error text of a failure reply so that every codec
// can carry it.
const MaxErrorLen = 8 << 10

// Fail builds the failure reply to e, keeping its ID. errMsg is cut to
// MaxErrorLen bytes on a rune boundary.
func (e *Envelope) Fail(errMsg string) *Envelope {
	ok := false
	return &Envelope{Kind: e.replyKind(), ID: e.ID, Timestamp: Now(), Success: &ok, Error: truncate(errMsg, MaxErrorLen)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
