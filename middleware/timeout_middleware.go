package middleware

import (
	"context"
	"time"

	"github.com/mineclover/iframe-remote/message"
)

// TimeOutMiddleware answers with a failure if next does not finish in time.
// The handler keeps running with a cancelled ctx; its late reply is discarded.
// A panic in the handler goroutine becomes a failure reply.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Envelope, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- panicReply(req, r)
					}
				}()
				done <- next(ctx, req)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				return req.Fail("request timed out")
			}
		}
	}
}
