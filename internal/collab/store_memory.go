package collab

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps everything in process memory. Used when no database is
// configured, and by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	invites  map[string]Invite
	events   map[string][]Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		invites:  make(map[string]Invite),
		events:   make(map[string][]Event),
	}
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrStoreNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) GetSessionByCode(_ context.Context, code string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.SessionCode == code {
			return sess.Clone(), nil
		}
	}
	return Session{}, ErrStoreNotFound
}

func (s *MemoryStore) FindSessions(_ context.Context, q SessionQuery) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if q.ActiveOnly && !sess.IsActive {
			continue
		}
		if q.UserID != "" && !sessionInvolvesUser(sess, q.UserID) {
			continue
		}
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveSession(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *MemoryStore) InsertInvite(_ context.Context, inv Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[inv.ID] = inv
	return nil
}

func (s *MemoryStore) GetInvite(_ context.Context, id string) (Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invites[id]
	if !ok {
		return Invite{}, ErrStoreNotFound
	}
	return inv, nil
}

func (s *MemoryStore) FindInvites(_ context.Context, inviteeUserID, inviteeEmail string) ([]Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Invite, 0, 4)
	for _, inv := range s.invites {
		if inviteeUserID != "" && inv.InviteeUserID == inviteeUserID {
			out = append(out, inv)
			continue
		}
		if inviteeEmail != "" && inv.InviteeEmail == inviteeEmail {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SaveInvite(_ context.Context, inv Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[inv.ID] = inv
	return nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.SessionID] = append(s.events[e.SessionID], e)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, sessionID string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[sessionID]
	if limit <= 0 || limit > len(events) {
		limit = len(events)
	}
	// Newest first, matching the session timeline query.
	out := make([]Event, 0, limit)
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, events[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func sessionInvolvesUser(sess Session, userID string) bool {
	if sess.HostUserID == userID {
		return true
	}
	for _, p := range sess.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
