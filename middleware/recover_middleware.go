package middleware

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mineclover/iframe-remote/message"
)

// RecoverMiddleware turns a panicking handler into a failure reply carrying
// the panic value. It only sees panics raised on its own goroutine.
func RecoverMiddleware(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) (reply *message.Envelope) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Str("method", Name(req)).Interface("panic", r).Msg("handler panicked")
					reply = panicReply(req, r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func panicReply(req *message.Envelope, r any) *message.Envelope {
	msg := fmt.Sprint(r)
	if err, ok := r.(error); ok {
		msg = err.Error()
	}
	if msg == "" {
		msg = "Unknown error"
	}
	return req.Fail(msg)
}
