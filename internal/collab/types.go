package collab

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrSessionFull    = errors.New("session is at maximum capacity")
	ErrSessionEnded   = errors.New("session has ended")
	ErrInviteNotFound = errors.New("invite not found")
	ErrInviteExpired  = errors.New("invite has expired")
)

type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
	InviteExpired  InviteStatus = "expired"
)

type EventType string

const (
	EventUserJoined   EventType = "user_joined"
	EventUserLeft     EventType = "user_left"
	EventCodeChanged  EventType = "code_changed"
	EventVoiceCommand EventType = "voice_command"
	EventChatMessage  EventType = "chat_message"
	EventFileCreated  EventType = "file_created"
	EventFileDeleted  EventType = "file_deleted"
)

// Participant is a user's membership record within a session.
type Participant struct {
	UserID         string         `json:"user_id"`
	Username       string         `json:"username"`
	Role           Role           `json:"role"`
	JoinedAt       time.Time      `json:"joined_at"`
	LastActivity   time.Time      `json:"last_activity"`
	IsActive       bool           `json:"is_active"`
	CursorPosition map[string]any `json:"cursor_position,omitempty"`
}

// Session is a shared-editing room: roster, shared code blob, capacity limit.
type Session struct {
	ID              string        `json:"session_id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	HostUserID      string        `json:"host_user_id"`
	ProjectID       string        `json:"project_id,omitempty"`
	SessionCode     string        `json:"session_code"`
	IsActive        bool          `json:"is_active"`
	MaxParticipants int           `json:"max_participants"`
	Participants    []Participant `json:"participants"`
	CurrentFile     string        `json:"current_file,omitempty"`
	SharedCode      string        `json:"shared_code,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	LastActivity    time.Time     `json:"last_activity"`
}

// Invite is the durable fallback for collaboration invites that could not be
// delivered to a live connection.
type Invite struct {
	ID            string       `json:"invite_id"`
	SessionID     string       `json:"session_id"`
	InviterUserID string       `json:"inviter_user_id"`
	InviteeEmail  string       `json:"invitee_email,omitempty"`
	InviteeUserID string       `json:"invitee_user_id,omitempty"`
	Message       string       `json:"message,omitempty"`
	Role          Role         `json:"role"`
	Status        InviteStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
	RespondedAt   *time.Time   `json:"responded_at,omitempty"`
}

func (i Invite) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// Event is one durable entry in a session's activity timeline.
type Event struct {
	ID          string         `json:"event_id"`
	SessionID   string         `json:"session_id"`
	UserID      string         `json:"user_id"`
	EventType   EventType      `json:"event_type"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (s Session) Clone() Session {
	out := s
	if s.Participants != nil {
		out.Participants = make([]Participant, len(s.Participants))
		copy(out.Participants, s.Participants)
	}
	return out
}
