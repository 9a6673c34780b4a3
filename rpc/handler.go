package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Handler is the wire-level form of a registered method: it receives the
// raw positional arguments of an rpc-call.
type Handler func(ctx context.Context, args []json.RawMessage) (any, error)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

var ErrBadHandler = errors.New("rpc: unsupported handler")

// funcShape is what Adapt learned about a plain Go func.
type funcShape struct {
	fn        reflect.Value
	hasCtx    bool           // first param is context.Context
	params    []reflect.Type // positional params after ctx; for variadic funcs the last one is the slice type
	variadic  bool
	hasResult bool
	hasErr    bool
}

// Adapt turns fn into a Handler. fn is either a Handler (or the equivalent
// func literal type) or any func whose shape is
//
//	func([ctx context.Context,] p1 T1, ..., [pn ...Tn]) [R | error | (R, error)]
//
// Arguments are decoded positionally from JSON: missing arguments are the
// zero value, extra arguments are ignored.
func Adapt(fn any) (Handler, error) {
	switch h := fn.(type) {
	case Handler:
		if h == nil {
			return nil, fmt.Errorf("%w: nil", ErrBadHandler)
		}
		return h, nil
	case func(context.Context, []json.RawMessage) (any, error):
		if h == nil {
			return nil, fmt.Errorf("%w: nil", ErrBadHandler)
		}
		return h, nil
	}

	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %T is not a func", ErrBadHandler, fn)
	}
	if v.IsNil() {
		return nil, fmt.Errorf("%w: nil func", ErrBadHandler)
	}
	shape, err := inspect(v)
	if err != nil {
		return nil, err
	}
	return shape.call, nil
}

func inspect(v reflect.Value) (*funcShape, error) {
	typ := v.Type()
	s := &funcShape{fn: v, variadic: typ.IsVariadic()}

	start := 0
	if typ.NumIn() > 0 && typ.In(0) == contextType {
		s.hasCtx = true
		start = 1
	}
	for i := start; i < typ.NumIn(); i++ {
		s.params = append(s.params, typ.In(i))
	}

	switch typ.NumOut() {
	case 0:
	case 1:
		if typ.Out(0) == errorType {
			s.hasErr = true
		} else {
			s.hasResult = true
		}
	case 2:
		if typ.Out(1) != errorType {
			return nil, fmt.Errorf("%w: %s: second result must be error", ErrBadHandler, typ)
		}
		s.hasResult, s.hasErr = true, true
	default:
		return nil, fmt.Errorf("%w: %s: too many results", ErrBadHandler, typ)
	}
	return s, nil
}

// call decodes args, invokes the func and unpacks its results. A panic in
// the func propagates to the caller.
func (s *funcShape) call(ctx context.Context, args []json.RawMessage) (any, error) {
	in := make([]reflect.Value, 0, len(s.params)+1)
	if s.hasCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}

	fixed := s.params
	if s.variadic {
		fixed = s.params[:len(s.params)-1]
	}
	for i, pt := range fixed {
		if i >= len(args) {
			in = append(in, reflect.Zero(pt))
			continue
		}
		arg, err := decodeArg(args[i], pt)
		if err != nil {
			return nil, fmt.Errorf("invalid argument %d: %w", i, err)
		}
		in = append(in, arg)
	}
	if s.variadic {
		elem := s.params[len(s.params)-1].Elem()
		for i := len(fixed); i < len(args); i++ {
			arg, err := decodeArg(args[i], elem)
			if err != nil {
				return nil, fmt.Errorf("invalid argument %d: %w", i, err)
			}
			in = append(in, arg)
		}
	}

	out := s.fn.Call(in)
	if s.hasErr {
		if errv := out[len(out)-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
	}
	if s.hasResult {
		return out[0].Interface(), nil
	}
	return nil, nil
}

func decodeArg(raw json.RawMessage, typ reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(typ)
	if len(raw) == 0 {
		return ptr.Elem(), nil
	}
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}
