// Package notify carries task status transitions from the worker to
// watching clients. Delivery is fire-and-forget; the task record stays the
// recoverable source of truth when an event is lost.
package notify

import (
	"context"
	"errors"

	"github.com/codevoicehq/codevoice/internal/generation"
)

var ErrStreamClosed = errors.New("stream closed")

// Notifier is a per-task publish/subscribe channel.
type Notifier interface {
	generation.Publisher
	Subscribe(ctx context.Context, taskID string) (Subscription, error)
	Close() error
}

// Subscription is one watcher's feed of events for a single task.
type Subscription interface {
	Events() <-chan generation.Event
	Close() error
}
