// Package events fans login-token status changes out to the websocket
// sessions waiting on them.
package events

import (
	"context"

	"github.com/BradenHooton/tokenlink/internal/models"
)

// Notifier publishes status changes per token.
type Notifier interface {
	Publish(ctx context.Context, tokenID string, report models.StatusReport) error
	Subscribe(ctx context.Context, tokenID string) (Subscription, error)
	Close() error
}

// Subscription receives the reports published for one token after it was
// created. Close is idempotent.
type Subscription interface {
	Events() <-chan models.StatusReport
	Close() error
}

const subscriberBuffer = 8

func topicName(tokenID string) string {
	return "login_token:" + tokenID
}
