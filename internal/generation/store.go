package generation

import (
	"context"
	"errors"
	"strings"
)

var ErrStoreNotFound = errors.New("not found in store")

// Store is the durable home of task records.
type Store interface {
	GetTask(ctx context.Context, id string) (Task, error)
	InsertTask(ctx context.Context, t Task) error
	SaveTask(ctx context.Context, t Task) error
	ListTasks(ctx context.Context, userID string, limit int) ([]Task, error)
	Close() error
}

// NewStore returns a Postgres-backed store when a database URL is configured,
// and an in-memory store otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
