package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nsqio/go-nsq"
)

// NSQSubscriber consumes topics from nsqd, discovering producers through
// nsqlookupd when LookupdAddr is set.
type NSQSubscriber struct {
	LookupdAddr string
	NSQDAddr    string
	Channel     string
}

func NewNSQSubscriber(lookupd, nsqd, channel string) *NSQSubscriber {
	return &NSQSubscriber{LookupdAddr: lookupd, NSQDAddr: nsqd, Channel: channel}
}

func (s *NSQSubscriber) Subscribe(ctx context.Context, topic string, h Handler) error {
	cfg := nsq.NewConfig()
	// One message at a time per loop.
	cfg.MaxInFlight = 1

	consumer, err := nsq.NewConsumer(topic, s.Channel, cfg)
	if err != nil {
		return fmt.Errorf("nsq consumer for %s: %w", topic, err)
	}

	h = Recover(h)
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		if len(m.Body) == 0 {
			return nil
		}
		return h(context.WithoutCancel(ctx), m.Body)
	}))

	if s.LookupdAddr != "" {
		err = consumer.ConnectToNSQLookupd(s.LookupdAddr)
	} else {
		err = consumer.ConnectToNSQD(s.NSQDAddr)
	}
	if err != nil {
		consumer.Stop()
		return fmt.Errorf("nsq connect for %s: %w", topic, err)
	}
	slog.InfoContext(ctx, "nsq consumer connected", "topic", topic, "channel", s.Channel)

	<-ctx.Done()
	consumer.Stop()
	<-consumer.StopChan
	return nil
}
