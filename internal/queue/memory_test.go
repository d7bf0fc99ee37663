package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker_DeliversInOrder(t *testing.T) {
	b := NewMemoryBroker(4)
	require.NoError(t, b.Publish("t", []byte("1")))
	require.NoError(t, b.Publish("t", []byte("2")))

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 2)
	go func() {
		_ = b.Subscribe(ctx, "t", func(_ context.Context, body []byte) error {
			got <- string(body)
			return nil
		})
	}()

	assert.Equal(t, "1", <-got)
	assert.Equal(t, "2", <-got)
	cancel()
}

func TestMemoryBroker_Full(t *testing.T) {
	b := NewMemoryBroker(1)
	require.NoError(t, b.Publish("t", []byte("1")))
	assert.ErrorIs(t, b.Publish("t", []byte("2")), ErrQueueFull)
	assert.Equal(t, 1, b.Len("t"))
}

func TestMemoryBroker_RedeliversOnError(t *testing.T) {
	b := NewMemoryBroker(4)
	b.requeueDelay = 10 * time.Millisecond
	require.NoError(t, b.Publish("t", []byte("x")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = b.Subscribe(ctx, "t", func(context.Context, []byte) error {
			if calls.Add(1) == 1 {
				return errors.New("transient")
			}
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not redelivered")
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoryBroker_PanicIsRedelivered(t *testing.T) {
	b := NewMemoryBroker(4)
	b.requeueDelay = 10 * time.Millisecond
	require.NoError(t, b.Publish("t", []byte("x")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = b.Subscribe(ctx, "t", func(context.Context, []byte) error {
			if calls.Add(1) == 1 {
				panic("boom")
			}
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("panicking handler stopped the loop")
	}
}

func TestMemoryBroker_SubscribeReturnsOnCancel(t *testing.T) {
	b := NewMemoryBroker(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, b.Subscribe(ctx, "t", func(context.Context, []byte) error { return nil }))
}
