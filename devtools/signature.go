package devtools

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/types"
	"reflect"
	"strings"
	"time"

	"github.com/mineclover/iframe-remote/schema"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
)

// parseSignature reads parameter names and types out of a declared Go func
// signature such as "func(name string, times int) string". It is a
// best-effort hint: anything it cannot parse yields ok=false.
func parseSignature(sig string) (params []schema.Param, ok bool) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return nil, false
	}
	if !strings.HasPrefix(sig, "func") {
		sig = "func" + sig
	}
	expr, err := parser.ParseExpr(sig)
	if err != nil {
		return nil, false
	}
	ft, isFunc := expr.(*ast.FuncType)
	if !isFunc {
		return nil, false
	}

	params = []schema.Param{}
	if ft.Params == nil {
		return params, true
	}
	idx := 0
	for i, field := range ft.Params.List {
		typ := types.ExprString(field.Type)
		if i == 0 && isContextExpr(typ) {
			continue
		}
		names := field.Names
		if len(names) == 0 {
			names = []*ast.Ident{{Name: fmt.Sprintf("arg%d", idx)}}
		}
		for _, name := range names {
			params = append(params, schema.Param{
				Name:     name.Name,
				Type:     typeFromExpr(field.Type),
				Required: true,
			})
			idx++
		}
	}
	return params, true
}

func isContextExpr(typ string) bool {
	return typ == "context.Context" || typ == "Context"
}

func typeFromExpr(e ast.Expr) schema.ParamType {
	switch t := e.(type) {
	case *ast.Ident:
		return typeFromName(t.Name)
	case *ast.SelectorExpr:
		if types.ExprString(t) == "time.Time" {
			return schema.TypeDatetime
		}
		return schema.TypeAny
	case *ast.ArrayType, *ast.Ellipsis:
		return schema.TypeArray
	case *ast.MapType, *ast.StructType:
		return schema.TypeObject
	case *ast.StarExpr:
		return typeFromExpr(t.X)
	case *ast.InterfaceType:
		return schema.TypeAny
	}
	return schema.TypeAny
}

func typeFromName(name string) schema.ParamType {
	switch name {
	case "string":
		return schema.TypeString
	case "bool":
		return schema.TypeBoolean
	case "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64",
		"float32", "float64", "byte", "rune":
		return schema.TypeNumber
	}
	return schema.TypeAny
}

// reflectParams builds placeholder params arg0, arg1, ... from the func type.
func reflectParams(typ reflect.Type) []schema.Param {
	params := []schema.Param{}
	start := 0
	if takesContext(typ) {
		start = 1
	}
	for i := start; i < typ.NumIn(); i++ {
		in := typ.In(i)
		pt := typeFromKind(in)
		if typ.IsVariadic() && i == typ.NumIn()-1 {
			pt = schema.TypeArray
		}
		params = append(params, schema.Param{
			Name: fmt.Sprintf("arg%d", i-start),
			Type: pt,
		})
	}
	return params
}

func takesContext(typ reflect.Type) bool {
	return typ.NumIn() > 0 && typ.In(0) == contextType
}

func typeFromKind(t reflect.Type) schema.ParamType {
	if t == timeType {
		return schema.TypeDatetime
	}
	switch t.Kind() {
	case reflect.String:
		return schema.TypeString
	case reflect.Bool:
		return schema.TypeBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return schema.TypeNumber
	case reflect.Slice, reflect.Array:
		return schema.TypeArray
	case reflect.Map, reflect.Struct:
		return schema.TypeObject
	case reflect.Ptr:
		return typeFromKind(t.Elem())
	}
	return schema.TypeAny
}
