package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrQueueFull = errors.New("queue: topic buffer full")

// MemoryBroker is an in-process queue backed by one buffered channel per topic.
type MemoryBroker struct {
	mu           sync.Mutex
	topics       map[string]chan []byte
	buffer       int
	requeueDelay time.Duration
}

func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryBroker{
		topics:       make(map[string]chan []byte),
		buffer:       buffer,
		requeueDelay: 500 * time.Millisecond,
	}
}

func (b *MemoryBroker) channel(topic string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[topic]
	if !ok {
		ch = make(chan []byte, b.buffer)
		b.topics[topic] = ch
	}
	return ch
}

func (b *MemoryBroker) Publish(topic string, body []byte) error {
	msg := make([]byte, len(body))
	copy(msg, body)
	select {
	case b.channel(topic) <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports how many messages are waiting on topic.
func (b *MemoryBroker) Len(topic string) int {
	return len(b.channel(topic))
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, h Handler) error {
	ch := b.channel(topic)
	h = Recover(h)
	for {
		select {
		case <-ctx.Done():
			return nil
		case body := <-ch:
			if err := h(context.WithoutCancel(ctx), body); err != nil {
				slog.WarnContext(ctx, "memory queue handler failed, requeueing", "topic", topic, "error", err)
				time.AfterFunc(b.requeueDelay, func() {
					if err := b.Publish(topic, body); err != nil {
						slog.Error("memory queue requeue dropped message", "topic", topic, "error", err)
					}
				})
			}
		}
	}
}
