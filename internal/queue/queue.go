// Package queue carries "a job is ready" notifications from producers to
// workers with at-least-once delivery. A Handler that returns an error gets
// its message redelivered by the transport.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

type Handler func(ctx context.Context, body []byte) error

type Publisher interface {
	Publish(topic string, body []byte) error
}

// Subscriber consumes a topic sequentially and blocks until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h Handler) error
}

// Recover turns a panic inside h into an error so one bad message cannot take
// down the consumption loop.
func Recover(h Handler) Handler {
	return func(ctx context.Context, body []byte) (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "queue handler panicked", "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("queue: handler panic: %v", r)
			}
		}()
		return h(ctx, body)
	}
}
