package rpc

import (
	"fmt"
	"reflect"
)

// RegisterService registers every exported method of rcvr that Adapt accepts
// as "<name>.<Method>". Methods with unsupported shapes are skipped. An empty
// name uses the receiver's type name.
//
//	type Arith struct{}
//	func (*Arith) Add(a, b int) int
//
//	e.RegisterService("", &Arith{}) // registers "Arith.Add"
func (e *Engine) RegisterService(name string, rcvr any) ([]string, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil {
		return nil, fmt.Errorf("rpc: nil service")
	}
	if name == "" {
		base := typ
		if base.Kind() == reflect.Ptr {
			base = base.Elem()
		}
		name = base.Name()
	}
	if name == "" {
		return nil, fmt.Errorf("rpc: service name required for unnamed type %s", typ)
	}

	val := reflect.ValueOf(rcvr)
	var registered []string
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}
		h, err := Adapt(val.Method(i).Interface())
		if err != nil {
			continue
		}
		full := name + "." + method.Name
		e.register(full, h)
		registered = append(registered, full)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("rpc: %s has no exported methods with a supported signature", name)
	}
	return registered, nil
}
