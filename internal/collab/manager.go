package collab

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns the in-memory mirror of collaboration sessions. The mirror is
// authoritative for live capacity decisions; the durable store is the source
// of truth across restarts and is updated best-effort.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	store           Store
	defaultCapacity int
	inviteTTL       time.Duration
}

func NewManager(store Store, defaultCapacity int, inviteTTL time.Duration) *Manager {
	if defaultCapacity <= 0 {
		defaultCapacity = 10
	}
	if inviteTTL <= 0 {
		inviteTTL = 24 * time.Hour
	}
	return &Manager{
		sessions:        make(map[string]*Session),
		store:           store,
		defaultCapacity: defaultCapacity,
		inviteTTL:       inviteTTL,
	}
}

type CreateSessionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	// MaxParticipants overrides the configured default when positive.
	MaxParticipants int `json:"max_participants,omitempty"`
}

func (m *Manager) CreateSession(ctx context.Context, hostUserID, hostName string, req CreateSessionRequest) (Session, error) {
	hostUserID = strings.TrimSpace(hostUserID)
	req.Name = strings.TrimSpace(req.Name)
	if hostUserID == "" {
		return Session{}, errors.New("host user id is required")
	}
	if req.Name == "" {
		return Session{}, errors.New("session name is required")
	}
	capacity := req.MaxParticipants
	if capacity <= 0 {
		capacity = m.defaultCapacity
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Description:     strings.TrimSpace(req.Description),
		HostUserID:      hostUserID,
		ProjectID:       strings.TrimSpace(req.ProjectID),
		SessionCode:     newJoinCode(),
		IsActive:        true,
		MaxParticipants: capacity,
		CreatedAt:       now,
		LastActivity:    now,
	}
	_ = sess.AddParticipant(hostUserID, hostName, RoleAdmin, now)

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	snapshot := sess.Clone()
	m.mu.Unlock()

	m.persistSession(snapshot)
	return snapshot, nil
}

// Get returns a session snapshot, falling back to the durable store and
// caching the result in the mirror.
func (m *Manager) Get(ctx context.Context, sessionID string) (Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	var snapshot Session
	if ok {
		snapshot = sess.Clone()
	}
	m.mu.RUnlock()
	if ok {
		return snapshot, nil
	}
	if m.store == nil {
		return Session{}, ErrNotFound
	}

	persisted, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}

	m.mu.Lock()
	if cached, exists := m.sessions[persisted.ID]; exists {
		snapshot = cached.Clone()
	} else {
		restored := persisted.Clone()
		m.sessions[persisted.ID] = &restored
		snapshot = restored.Clone()
	}
	m.mu.Unlock()
	return snapshot, nil
}

func (m *Manager) GetByCode(ctx context.Context, code string) (Session, error) {
	code = strings.TrimSpace(code)
	m.mu.RLock()
	for _, sess := range m.sessions {
		if sess.SessionCode == code {
			snapshot := sess.Clone()
			m.mu.RUnlock()
			return snapshot, nil
		}
	}
	m.mu.RUnlock()

	if m.store == nil {
		return Session{}, ErrNotFound
	}
	persisted, err := m.store.GetSessionByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return m.Get(ctx, persisted.ID)
}

func (m *Manager) List(ctx context.Context, userID string, activeOnly bool, limit int) []Session {
	if m.store == nil {
		m.mu.RLock()
		defer m.mu.RUnlock()
		out := make([]Session, 0, len(m.sessions))
		for _, sess := range m.sessions {
			if activeOnly && !sess.IsActive {
				continue
			}
			if userID != "" && !sessionInvolvesUser(*sess, userID) {
				continue
			}
			out = append(out, sess.Clone())
		}
		return out
	}
	found, err := m.store.FindSessions(ctx, SessionQuery{UserID: userID, ActiveOnly: activeOnly, Limit: limit})
	if err != nil {
		log.Printf("collab: list sessions from store failed: %v", err)
		return nil
	}
	return found
}

// Join adds or reactivates the user on the roster. The capacity check and the
// roster append happen under one lock, so concurrent joins cannot overcommit.
func (m *Manager) Join(ctx context.Context, sessionID, userID, username string) (Session, error) {
	if _, err := m.Get(ctx, sessionID); err != nil {
		return Session{}, err
	}

	now := time.Now().UTC()
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return Session{}, ErrNotFound
	}
	if !sess.IsActive {
		m.mu.Unlock()
		return Session{}, ErrSessionEnded
	}
	if err := sess.AddParticipant(userID, username, RoleEditor, now); err != nil {
		m.mu.Unlock()
		return Session{}, err
	}
	snapshot := sess.Clone()
	m.mu.Unlock()

	m.persistSession(snapshot)
	m.logEvent(sessionID, userID, EventUserJoined, username+" joined session", nil)
	return snapshot, nil
}

// Leave marks the participant inactive. The durable session row is kept even
// when the roster empties out.
func (m *Manager) Leave(ctx context.Context, sessionID, userID string) (Session, error) {
	now := time.Now().UTC()
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return Session{}, ErrNotFound
	}
	sess.RemoveParticipant(userID, now)
	snapshot := sess.Clone()
	m.mu.Unlock()

	m.persistSession(snapshot)
	m.logEvent(sessionID, userID, EventUserLeft, "user left session", nil)
	return snapshot, nil
}

// UpdateSharedCode replaces the session's shared code blob.
func (m *Manager) UpdateSharedCode(sessionID, userID, code, file string) {
	now := time.Now().UTC()
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess.SharedCode = code
	if file != "" {
		sess.CurrentFile = file
	}
	sess.LastActivity = now
	snapshot := sess.Clone()
	m.mu.Unlock()

	m.persistSession(snapshot)
}

// TouchCursor records a participant's cursor position in the mirror only;
// cursor moves are too chatty to persist.
func (m *Manager) TouchCursor(sessionID, userID string, cursor map[string]any) {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	for i := range sess.Participants {
		if sess.Participants[i].UserID == userID {
			sess.Participants[i].CursorPosition = cursor
			sess.Participants[i].LastActivity = now
			break
		}
	}
	sess.LastActivity = now
}

func (m *Manager) End(ctx context.Context, sessionID string) (Session, error) {
	if _, err := m.Get(ctx, sessionID); err != nil {
		return Session{}, err
	}

	now := time.Now().UTC()
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return Session{}, ErrNotFound
	}
	sess.End(now)
	snapshot := sess.Clone()
	m.mu.Unlock()

	m.persistSession(snapshot)
	return snapshot, nil
}

// Evict drops a session from the in-memory mirror. Called when its last live
// connection goes away; the durable row persists.
func (m *Manager) Evict(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// CreateInvite records a durable invite row. It backs the offline-delivery
// fallback of the live collaboration_invite message.
func (m *Manager) CreateInvite(ctx context.Context, sessionID, inviterUserID, inviteeUserID, inviteeEmail, message string) (Invite, error) {
	if _, err := m.Get(ctx, sessionID); err != nil {
		return Invite{}, err
	}
	now := time.Now().UTC()
	inv := Invite{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		InviterUserID: inviterUserID,
		InviteeEmail:  strings.TrimSpace(inviteeEmail),
		InviteeUserID: strings.TrimSpace(inviteeUserID),
		Message:       strings.TrimSpace(message),
		Role:          RoleEditor,
		Status:        InvitePending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.inviteTTL),
	}
	if m.store != nil {
		if err := m.store.InsertInvite(ctx, inv); err != nil {
			return Invite{}, err
		}
	}
	return inv, nil
}

func (m *Manager) ListInvites(ctx context.Context, inviteeUserID, inviteeEmail string) ([]Invite, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.FindInvites(ctx, inviteeUserID, inviteeEmail)
}

// AcceptInvite marks the invite accepted and joins the user to the session.
func (m *Manager) AcceptInvite(ctx context.Context, inviteID, userID, username string) (Session, error) {
	if m.store == nil {
		return Session{}, ErrInviteNotFound
	}
	inv, err := m.store.GetInvite(ctx, inviteID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Session{}, ErrInviteNotFound
		}
		return Session{}, err
	}
	now := time.Now().UTC()
	if inv.IsExpired(now) {
		return Session{}, ErrInviteExpired
	}

	sess, err := m.Join(ctx, inv.SessionID, userID, username)
	if err != nil {
		return Session{}, err
	}

	inv.Status = InviteAccepted
	inv.InviteeUserID = userID
	inv.RespondedAt = &now
	if err := m.store.SaveInvite(ctx, inv); err != nil {
		log.Printf("collab: save accepted invite %s failed: %v", inv.ID, err)
	}
	return sess, nil
}

func (m *Manager) Events(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if m.store == nil {
		return []Event{}, nil
	}
	return m.store.ListEvents(ctx, sessionID, limit)
}

// LogEvent appends to the session's durable timeline, best-effort.
func (m *Manager) LogEvent(sessionID, userID string, eventType EventType, description string, data map[string]any) {
	m.logEvent(sessionID, userID, eventType, description, data)
}

func (m *Manager) persistSession(snapshot Session) {
	if m.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.store.SaveSession(ctx, snapshot); err != nil {
			log.Printf("collab: persist session %s failed: %v", snapshot.ID, err)
		}
	}()
}

func (m *Manager) logEvent(sessionID, userID string, eventType EventType, description string, data map[string]any) {
	if m.store == nil {
		return
	}
	evt := Event{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		UserID:      userID,
		EventType:   eventType,
		Description: description,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.store.InsertEvent(ctx, evt); err != nil {
			log.Printf("collab: log event for session %s failed: %v", sessionID, err)
		}
	}()
}

func newJoinCode() string {
	// First uuid block is enough entropy for a human-shareable join code.
	return strings.ToUpper(strings.SplitN(uuid.NewString(), "-", 2)[0])
}
