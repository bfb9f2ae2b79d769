package collab

import (
	"context"
	"errors"
	"strings"
)

var ErrStoreNotFound = errors.New("not found in store")

// SessionQuery narrows FindSessions. Zero values match everything.
type SessionQuery struct {
	UserID     string
	ActiveOnly bool
	Limit      int
}

// Store is the durable document store for sessions, invites, and events.
// It is the source of truth across restarts; the in-memory mirror is only
// authoritative for live capacity decisions.
type Store interface {
	GetSession(ctx context.Context, id string) (Session, error)
	GetSessionByCode(ctx context.Context, code string) (Session, error)
	FindSessions(ctx context.Context, q SessionQuery) ([]Session, error)
	SaveSession(ctx context.Context, s Session) error

	InsertInvite(ctx context.Context, inv Invite) error
	GetInvite(ctx context.Context, id string) (Invite, error)
	FindInvites(ctx context.Context, inviteeUserID, inviteeEmail string) ([]Invite, error)
	SaveInvite(ctx context.Context, inv Invite) error

	InsertEvent(ctx context.Context, e Event) error
	ListEvents(ctx context.Context, sessionID string, limit int) ([]Event, error)

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
