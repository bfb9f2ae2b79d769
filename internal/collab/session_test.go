package collab

import (
	"testing"
	"time"
)

func newTestSession(capacity int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:              "s1",
		Name:            "Standup",
		HostUserID:      "host",
		SessionCode:     "AB12CD34",
		IsActive:        true,
		MaxParticipants: capacity,
		CreatedAt:       now,
		LastActivity:    now,
	}
}

func TestAddParticipantCapacity(t *testing.T) {
	s := newTestSession(2)
	now := time.Now().UTC()

	if err := s.AddParticipant("a", "Alice", RoleEditor, now); err != nil {
		t.Fatalf("AddParticipant(a) error = %v", err)
	}
	if err := s.AddParticipant("b", "Bob", RoleEditor, now); err != nil {
		t.Fatalf("AddParticipant(b) error = %v", err)
	}
	if err := s.AddParticipant("c", "Carol", RoleEditor, now); err != ErrSessionFull {
		t.Fatalf("AddParticipant(c) error = %v, want ErrSessionFull", err)
	}
	if got := s.ParticipantCount(); got != 2 {
		t.Fatalf("ParticipantCount() = %d, want 2 after rejected join", got)
	}
}

func TestAddParticipantReactivatesInsteadOfDuplicating(t *testing.T) {
	s := newTestSession(5)
	now := time.Now().UTC()

	if err := s.AddParticipant("a", "Alice", RoleEditor, now); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}
	s.RemoveParticipant("a", now)
	if got := len(s.ActiveParticipants()); got != 0 {
		t.Fatalf("ActiveParticipants() = %d, want 0 after remove", got)
	}

	if err := s.AddParticipant("a", "Alice A.", RoleEditor, now.Add(time.Second)); err != nil {
		t.Fatalf("rejoin AddParticipant() error = %v", err)
	}
	if got := len(s.Participants); got != 1 {
		t.Fatalf("len(Participants) = %d, want 1 (reactivated, not duplicated)", got)
	}
	active := s.ActiveParticipants()
	if len(active) != 1 || active[0].Username != "Alice A." {
		t.Fatalf("ActiveParticipants() = %+v, want single refreshed entry", active)
	}
}

func TestAddParticipantRefreshWhenAlreadyActive(t *testing.T) {
	s := newTestSession(1)
	now := time.Now().UTC()

	if err := s.AddParticipant("a", "Alice", RoleEditor, now); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}
	// Rejoining while already active and at capacity must not be rejected;
	// the user is already counted.
	if err := s.AddParticipant("a", "Alice", RoleEditor, now.Add(time.Second)); err != nil {
		t.Fatalf("active rejoin error = %v, want nil", err)
	}
	if got := s.ParticipantCount(); got != 1 {
		t.Fatalf("ParticipantCount() = %d, want 1", got)
	}
}

func TestReactivationAtCapacityIsRejected(t *testing.T) {
	s := newTestSession(1)
	now := time.Now().UTC()

	if err := s.AddParticipant("a", "Alice", RoleEditor, now); err != nil {
		t.Fatalf("AddParticipant(a) error = %v", err)
	}
	s.RemoveParticipant("a", now)
	if err := s.AddParticipant("b", "Bob", RoleEditor, now); err != nil {
		t.Fatalf("AddParticipant(b) error = %v", err)
	}
	if err := s.AddParticipant("a", "Alice", RoleEditor, now); err != ErrSessionFull {
		t.Fatalf("reactivation at capacity error = %v, want ErrSessionFull", err)
	}
}

func TestEndKeepsHistory(t *testing.T) {
	s := newTestSession(3)
	now := time.Now().UTC()
	if err := s.AddParticipant("a", "Alice", RoleEditor, now); err != nil {
		t.Fatalf("AddParticipant() error = %v", err)
	}

	s.End(now.Add(time.Minute))
	if s.IsActive {
		t.Fatalf("IsActive = true after End()")
	}
	if s.EndedAt == nil {
		t.Fatalf("EndedAt = nil after End()")
	}
	if len(s.Participants) != 1 {
		t.Fatalf("len(Participants) = %d, want history preserved", len(s.Participants))
	}
}
