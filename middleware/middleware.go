// Package middleware wraps inbound request and rpc-call dispatch. A handler
// turns one inbound envelope into its reply; middlewares wrap the handler
// like an onion, the first in a Chain being the outermost.
package middleware

import (
	"context"

	"github.com/mineclover/iframe-remote/message"
)

// HandlerFunc answers req. It always returns a reply envelope.
type HandlerFunc func(ctx context.Context, req *message.Envelope) *message.Envelope

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Name returns the method of an rpc-call, or the kind for plain requests.
// It labels a request in logs and metrics.
func Name(req *message.Envelope) string {
	if req.Method != "" {
		return req.Method
	}
	return string(req.Kind)
}
