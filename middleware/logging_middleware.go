package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mineclover/iframe-remote/message"
)

func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			start := time.Now()
			reply := next(ctx, req)
			ev := logger.Debug()
			if reply != nil && !reply.Succeeded() {
				ev = logger.Info().Str("error", reply.Error)
			}
			ev.Str("method", Name(req)).Str("id", req.ID).Dur("duration", time.Since(start)).Msg("dispatch")
			return reply
		}
	}
}
