package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mineclover/iframe-remote/devtools"
	"github.com/mineclover/iframe-remote/rpc"
	"github.com/mineclover/iframe-remote/schema"
)

// demoNamespace is what serve exposes to devtools: prefixed functions with
// and without metadata, plus a few entries discovery must skip.
func demoNamespace() *devtools.Namespace {
	ns := devtools.NewNamespace()

	ns.Set("__greet", func(name string) string { return "Hello, " + name + "!" },
		devtools.WithMetadata(schema.Function{
			Name:        "__greet",
			Kind:        schema.KindSync,
			Description: "Greets someone",
			Params: []schema.Param{
				{Name: "name", Type: schema.TypeString, Required: true, Default: "World"},
			},
			Returns: "string",
		}))

	ns.Set("__scale", func(v float64, factor float64) float64 { return v * factor },
		devtools.WithMetadata(schema.Function{
			Name: "__scale",
			Kind: schema.KindSync,
			Params: []schema.Param{
				{Name: "value", Type: schema.TypeNumber, Required: true},
				{Name: "factor", Type: schema.TypeRange, Min: schema.Float(0), Max: schema.Float(10), Step: schema.Float(0.5), Default: 1},
			},
			Returns: "number",
		}))

	ns.Set("__theme", func(mode string, accent string) string { return mode + ":" + accent },
		devtools.WithMetadata(schema.Function{
			Name: "__theme",
			Kind: schema.KindSync,
			Params: []schema.Param{
				{Name: "mode", Type: schema.TypeSelect, Options: []any{"light", "dark"}, Required: true},
				{Name: "accent", Type: schema.TypeColor, Default: "#0af"},
			},
			Tags: []string{"ui"},
		}))

	ns.Set("__upper", strings.ToUpper, devtools.WithSignature("func(text string) string"))

	ns.Set("__wait", func(ctx context.Context, ms int) (string, error) {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return fmt.Sprintf("waited %dms", ms), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	ns.Set("__now", func() string { return time.Now().UTC().Format(time.RFC3339) })

	ns.Set("__version", version)
	ns.Set("helper", func() {})
	return ns
}

// clockService is registered as "Clock.Now" and "Clock.Unix".
type clockService struct{}

func (clockService) Now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func (clockService) Unix() int64 { return time.Now().Unix() }

func registerDemoMethods(e *rpc.Engine) error {
	if err := e.RegisterAll(map[string]any{
		"add":  func(a, b float64) float64 { return a + b },
		"echo": func(v json.RawMessage) json.RawMessage { return v },
		"sleep": func(ctx context.Context, ms int) (string, error) {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
				return "done", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}); err != nil {
		return err
	}
	_, err := e.RegisterService("Clock", clockService{})
	return err
}
