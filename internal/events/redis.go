package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/tokenlink/internal/models"
)

// Redis delivers events across API instances through redis pub/sub, so a
// confirm handled by one instance reaches a websocket held by another.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis wraps a connected client.
func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, tokenID string, report models.StatusReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, topicName(tokenID), payload).Err(); err != nil {
		return fmt.Errorf("publish login token event: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, tokenID string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, topicName(tokenID))
	// Wait for the confirmation so no publish after Subscribe returns is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe login token events: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan models.StatusReport, subscriberBuffer),
		done:   make(chan struct{}),
	}
	go sub.forward(r.logger)
	return sub, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	ch        chan models.StatusReport
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) forward(logger *slog.Logger) {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		var report models.StatusReport
		if err := json.Unmarshal([]byte(msg.Payload), &report); err != nil {
			logger.Warn("malformed login token event", slog.String("channel", msg.Channel), slog.Any("error", err))
			continue
		}
		select {
		case s.ch <- report:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Events() <-chan models.StatusReport { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
