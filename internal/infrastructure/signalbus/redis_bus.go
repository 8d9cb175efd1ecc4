package signalbus

import (
	"context"
	"encoding/json"
	"fmt"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus implements the signaling channel on Redis pub/sub. Every
// subscriber of a topic receives every published envelope, the publisher
// included; routing by viewer id happens at the consumer.
type RedisBus struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewRedisBus(client *redis.Client, logger *zap.SugaredLogger) *RedisBus {
	return &RedisBus{
		client: client,
		logger: logger,
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, env *domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	b.logger.Debugw("published signal",
		"topic", topic,
		"type", env.Type,
		"viewer_id", env.ViewerID,
	)
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (ports.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topic)

	// Wait for the subscription to be confirmed so a request-offer sent
	// right after Subscribe cannot outrun it.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan *domain.Envelope, 32),
	}

	go func() {
		defer close(sub.out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env domain.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Warnw("dropping malformed signal",
						"topic", topic,
						"error", err,
					)
					continue
				}
				select {
				case sub.out <- &env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan *domain.Envelope
}

func (s *redisSubscription) Messages() <-chan *domain.Envelope {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
