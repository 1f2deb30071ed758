package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/flemzord/memstore/internal/memory"
)

// Broker is a memory.Broker on Redis pub/sub. Every subscription owns its
// own PubSub connection; handlers run on that subscription's receive
// goroutine, one message at a time.
type Broker struct {
	client *goredis.Client
	logger *slog.Logger
}

var _ memory.Broker = (*Broker)(nil)

// NewBroker wraps client. The client stays owned by the caller.
func NewBroker(client *goredis.Client, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Broker{client: client, logger: logger}
}

// Publish sends data on topic.
func (b *Broker) Publish(ctx context.Context, topic string, data []byte) error {
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts delivering messages on topic to handler. It returns once
// Redis confirmed the subscription. The receive loop outlives ctx and ends
// when the returned cancel function is called.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler func([]byte)) (func(), error) {
	pubsub := b.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", topic, err)
	}

	loopCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := pubsub.Channel()
		for {
			select {
			case <-loopCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	b.logger.Debug("redis: subscribed", "topic", topic)

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			if err := pubsub.Close(); err != nil {
				b.logger.Warn("redis: closing subscription", "topic", topic, "error", err)
			}
			<-done
		})
	}, nil
}
