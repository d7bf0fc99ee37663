package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps one Redis list per topic. Publish appends with RPUSH and
// Subscribe pops with BLPOP; failed messages are pushed back to the tail.
type RedisQueue struct {
	client      redis.UniversalClient
	prefix      string
	pollTimeout time.Duration
}

func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "jobpipe:queue:"
	}
	return &RedisQueue{client: client, prefix: prefix, pollTimeout: 5 * time.Second}
}

func (q *RedisQueue) key(topic string) string { return q.prefix + topic }

func (q *RedisQueue) Publish(topic string, body []byte) error {
	return q.client.RPush(context.Background(), q.key(topic), body).Err()
}

func (q *RedisQueue) Subscribe(ctx context.Context, topic string, h Handler) error {
	key := q.key(topic)
	h = Recover(h)
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := q.client.BLPop(ctx, q.pollTimeout, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.WarnContext(ctx, "redis queue pop failed", "topic", topic, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		body := []byte(res[1])
		if err := h(context.WithoutCancel(ctx), body); err != nil {
			slog.WarnContext(ctx, "redis queue handler failed, requeueing", "topic", topic, "error", err)
			if perr := q.client.RPush(context.WithoutCancel(ctx), key, body).Err(); perr != nil {
				slog.ErrorContext(ctx, "redis queue requeue failed", "topic", topic, "error", perr)
			}
		}
	}
}
