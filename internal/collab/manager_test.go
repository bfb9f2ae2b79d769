package collab

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(NewMemoryStore(), 10, time.Hour)
}

func TestManagerCreateAndJoin(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "host", "Hannah", CreateSessionRequest{Name: "Standup", MaxParticipants: 2})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sess.SessionCode == "" {
		t.Fatalf("SessionCode empty")
	}
	if got := sess.ParticipantCount(); got != 1 {
		t.Fatalf("ParticipantCount() = %d, want 1 (host)", got)
	}
	if sess.Participants[0].Role != RoleAdmin {
		t.Fatalf("host role = %q, want %q", sess.Participants[0].Role, RoleAdmin)
	}

	joined, err := m.Join(ctx, sess.ID, "u2", "Bea")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if got := joined.ParticipantCount(); got != 2 {
		t.Fatalf("ParticipantCount() = %d, want 2", got)
	}

	if _, err := m.Join(ctx, sess.ID, "u3", "Cam"); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("Join(u3) error = %v, want ErrSessionFull", err)
	}
	after, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := after.ParticipantCount(); got != 2 {
		t.Fatalf("ParticipantCount() = %d, want roster unchanged after rejected join", got)
	}
}

func TestManagerJoinUnknownSession(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Join(context.Background(), "nope", "u1", "Uma"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Join() error = %v, want ErrNotFound", err)
	}
}

func TestManagerLeaveAndRejoin(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "host", "Hannah", CreateSessionRequest{Name: "Pairing"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := m.Join(ctx, sess.ID, "u2", "Bea"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	left, err := m.Leave(ctx, sess.ID, "u2")
	if err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if got := left.ParticipantCount(); got != 1 {
		t.Fatalf("ParticipantCount() = %d, want 1 after leave", got)
	}

	rejoined, err := m.Join(ctx, sess.ID, "u2", "Bea")
	if err != nil {
		t.Fatalf("rejoin error = %v", err)
	}
	if got := len(rejoined.Participants); got != 2 {
		t.Fatalf("len(Participants) = %d, want 2 (no duplicate row)", got)
	}
}

func TestManagerEvictAndRestoreFromStore(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, 10, time.Hour)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "host", "Hannah", CreateSessionRequest{Name: "Durable"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	// Make the durable row deterministic for the test instead of waiting on
	// the async best-effort save.
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	m.Evict(sess.ID)
	restored, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() after evict error = %v", err)
	}
	if restored.ID != sess.ID || restored.Name != "Durable" {
		t.Fatalf("restored session = %+v, want durable copy of %s", restored, sess.ID)
	}
}

func TestManagerUpdateSharedCode(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "host", "Hannah", CreateSessionRequest{Name: "Editing"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	m.UpdateSharedCode(sess.ID, "host", "print('hi')", "main.py")
	got, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SharedCode != "print('hi')" || got.CurrentFile != "main.py" {
		t.Fatalf("shared code = %q file = %q, want updated blob", got.SharedCode, got.CurrentFile)
	}
}

func TestManagerInviteLifecycle(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "host", "Hannah", CreateSessionRequest{Name: "Invites"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	inv, err := m.CreateInvite(ctx, sess.ID, "host", "u9", "u9@example.com", "join me")
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}
	if inv.Status != InvitePending {
		t.Fatalf("invite status = %q, want %q", inv.Status, InvitePending)
	}

	pending, err := m.ListInvites(ctx, "u9", "")
	if err != nil {
		t.Fatalf("ListInvites() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}

	joined, err := m.AcceptInvite(ctx, inv.ID, "u9", "Niner")
	if err != nil {
		t.Fatalf("AcceptInvite() error = %v", err)
	}
	if got := joined.ParticipantCount(); got != 2 {
		t.Fatalf("ParticipantCount() = %d, want 2 after accept", got)
	}
}

func TestManagerEndSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "host", "Hannah", CreateSessionRequest{Name: "Wrap"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	ended, err := m.End(ctx, sess.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.IsActive || ended.EndedAt == nil {
		t.Fatalf("ended session = %+v, want inactive with EndedAt", ended)
	}

	if _, err := m.Join(ctx, sess.ID, "late", "Late"); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("Join() after end error = %v, want ErrSessionEnded", err)
	}
}
