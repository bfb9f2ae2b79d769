package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants on the live session channel.
type MessageType string

const (
	// Client -> server.
	TypeCodeChange     MessageType = "code_change"
	TypeCursorPosition MessageType = "cursor_position"
	TypeChatMessage    MessageType = "chat_message"
	TypeVoiceCommand   MessageType = "voice_command"
	TypeFileShare      MessageType = "file_share"
	TypeCompileRequest MessageType = "compile_request"

	// Server -> client.
	TypeSessionInfo         MessageType = "session_info"
	TypeUserJoined          MessageType = "user_joined"
	TypeUserLeft            MessageType = "user_left"
	TypeCollaborationInvite MessageType = "collaboration_invite"
	TypeErrorEvent          MessageType = "error_event"
)

var ErrEmptyMessage = errors.New("empty message")

// UserInfo is the identity snapshot captured when a connection is opened.
type UserInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientMessage is one inbound live-channel message. Fields holds the decoded
// body so it can be relayed to peers verbatim, with sender info stamped on.
type ClientMessage struct {
	Type   MessageType
	Fields map[string]any
}

// Stamp returns the relay payload: the original fields plus sender identity
// and a server-side timestamp (unix milliseconds).
func (m ClientMessage) Stamp(sender UserInfo, tsMillis int64) map[string]any {
	out := make(map[string]any, len(m.Fields)+2)
	for k, v := range m.Fields {
		out[k] = v
	}
	out["sender"] = sender
	out["timestamp"] = tsMillis
	return out
}

// BroadcastToSender reports whether the sender should receive its own message
// back. Chat messages echo to everyone, including the author.
func (m ClientMessage) BroadcastToSender() bool {
	return m.Type == TypeChatMessage
}

// ParseClientMessage decodes one inbound live-channel message. Unknown types
// are accepted and relayed as-is, matching the channel's passthrough contract.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	if len(raw) == 0 {
		return ClientMessage{}, ErrEmptyMessage
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if strings.TrimSpace(string(env.Type)) == "" {
		return ClientMessage{}, errors.New("missing message type")
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ClientMessage{}, fmt.Errorf("invalid message body: %w", err)
	}
	return ClientMessage{Type: env.Type, Fields: fields}, nil
}

type SessionInfo struct {
	Type              MessageType `json:"type"`
	SessionID         string      `json:"session_id"`
	Participants      any         `json:"participants"`
	ParticipantsCount int         `json:"participants_count"`
	SharedCode        string      `json:"shared_code,omitempty"`
	CurrentFile       string      `json:"current_file,omitempty"`
}

type UserJoined struct {
	Type              MessageType `json:"type"`
	User              UserInfo    `json:"user"`
	ParticipantsCount int         `json:"participants_count"`
}

type UserLeft struct {
	Type              MessageType `json:"type"`
	User              UserInfo    `json:"user"`
	ParticipantsCount int         `json:"participants_count"`
}

type CollaborationInvite struct {
	Type           MessageType `json:"type"`
	InviteID       string      `json:"invite_id"`
	SessionID      string      `json:"session_id"`
	ProjectName    string      `json:"project_name,omitempty"`
	FromUser       string      `json:"from_user,omitempty"`
	FromUserID     string      `json:"from_user_id"`
	FromUserAvatar string      `json:"from_user_avatar,omitempty"`
	ToUserID       string      `json:"to_user_id"`
	Offline        bool        `json:"offline"`
	TSMillis       int64       `json:"timestamp"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}
