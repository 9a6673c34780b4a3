package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// Caller is the calling half of an Engine.
type Caller interface {
	CallWithOptions(ctx context.Context, method string, opts CallOptions, args ...any) (json.RawMessage, error)
}

// Registrar is the serving half of an Engine.
type Registrar interface {
	Register(name string, fn any) error
}

// Method is a remote method declared once with its argument and result types,
// so both the call site and the handler are checked by the compiler. On the
// wire it is still dispatched by name.
//
//	var Add = rpc.NewMethod[AddArgs, int]("math.add")
//	Add.Handle(frame, func(ctx context.Context, a AddArgs) (int, error) { return a.A + a.B, nil })
//	sum, err := Add.Call(ctx, host, AddArgs{A: 1, B: 2})
type Method[A, R any] struct {
	name string
}

func NewMethod[A, R any](name string) Method[A, R] {
	return Method[A, R]{name: name}
}

func (m Method[A, R]) Name() string {
	return m.name
}

// Call invokes the method with arg as its single argument.
func (m Method[A, R]) Call(ctx context.Context, c Caller, arg A) (R, error) {
	return m.CallWithOptions(ctx, c, CallOptions{}, arg)
}

func (m Method[A, R]) CallWithOptions(ctx context.Context, c Caller, opts CallOptions, arg A) (R, error) {
	return Decode[R](c.CallWithOptions(ctx, m.name, opts, arg))
}

// Handle registers fn as the method's handler.
func (m Method[A, R]) Handle(r Registrar, fn func(ctx context.Context, arg A) (R, error)) error {
	return r.Register(m.name, Handler(func(ctx context.Context, args []json.RawMessage) (any, error) {
		var arg A
		if len(args) > 0 && len(args[0]) > 0 {
			if err := json.Unmarshal(args[0], &arg); err != nil {
				return nil, fmt.Errorf("invalid argument: %w", err)
			}
		}
		return fn(ctx, arg)
	}))
}

// Decode unmarshals the raw result of an untyped call:
//
//	n, err := rpc.Decode[int](engine.Call(ctx, "add", 1, 2))
func Decode[T any](raw json.RawMessage, err error) (T, error) {
	var v T
	if err != nil {
		return v, err
	}
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("rpc: decode result: %w", err)
	}
	return v, nil
}
