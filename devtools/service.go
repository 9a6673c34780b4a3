package devtools

import (
	"context"
	"encoding/json"

	"github.com/mineclover/iframe-remote/rpc"
	"github.com/mineclover/iframe-remote/schema"
)

// RPC method names served by Serve.
const (
	MethodList      = "devtools.list"
	MethodCall      = "devtools.call"
	MethodRefresh   = "devtools.refresh"
	MethodGetConfig = "devtools.getConfig"
)

type none = struct{}

var (
	listMethod    = rpc.NewMethod[none, []schema.Function](MethodList)
	refreshMethod = rpc.NewMethod[none, int](MethodRefresh)
	configMethod  = rpc.NewMethod[none, Config](MethodGetConfig)
)

// Serve registers the devtools methods on an RPC engine. The registry itself
// never touches the transport.
//
//	devtools.list()              → []schema.Function
//	devtools.call(name, [args])  → result of the function
//	devtools.refresh()           → number of functions found
//	devtools.getConfig()         → Config
func (reg *Registry) Serve(r rpc.Registrar) error {
	if err := listMethod.Handle(r, func(context.Context, none) ([]schema.Function, error) {
		return reg.List(), nil
	}); err != nil {
		return err
	}
	if err := refreshMethod.Handle(r, func(context.Context, none) (int, error) {
		return reg.Refresh(), nil
	}); err != nil {
		return err
	}
	if err := configMethod.Handle(r, func(context.Context, none) (Config, error) {
		return reg.Config(), nil
	}); err != nil {
		return err
	}
	return r.Register(MethodCall, func(ctx context.Context, name string, args []json.RawMessage) (any, error) {
		callArgs := make([]any, len(args))
		for i, a := range args {
			callArgs[i] = a
		}
		return reg.Call(ctx, name, callArgs...)
	})
}

// Client is the remote side of Serve.
type Client struct {
	caller rpc.Caller
	opts   rpc.CallOptions
}

func NewClient(c rpc.Caller) *Client {
	return &Client{caller: c}
}

// WithCallOptions returns a client that uses opts for every call.
func (c *Client) WithCallOptions(opts rpc.CallOptions) *Client {
	return &Client{caller: c.caller, opts: opts}
}

func (c *Client) List(ctx context.Context) ([]schema.Function, error) {
	return listMethod.CallWithOptions(ctx, c.caller, c.opts, none{})
}

func (c *Client) Refresh(ctx context.Context) (int, error) {
	return refreshMethod.CallWithOptions(ctx, c.caller, c.opts, none{})
}

func (c *Client) Config(ctx context.Context) (Config, error) {
	return configMethod.CallWithOptions(ctx, c.caller, c.opts, none{})
}

// Call invokes a remote devtools function by name.
func (c *Client) Call(ctx context.Context, name string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	return c.caller.CallWithOptions(ctx, MethodCall, c.opts, name, args)
}
