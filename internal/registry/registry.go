package registry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codevoicehq/codevoice/internal/collab"
	"github.com/codevoicehq/codevoice/internal/observability"
	"github.com/codevoicehq/codevoice/internal/protocol"
)

var ErrNotJoined = errors.New("connection is not registered")

// Conn is one live bidirectional channel to a client. Implementations must
// serialize their own writes; the registry only guarantees it never writes
// the same payload twice to one connection.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Roster is the collaboration-session side of a join/leave: capacity checks
// and durable participant bookkeeping.
type Roster interface {
	Join(ctx context.Context, sessionID, userID, username string) (collab.Session, error)
	Leave(ctx context.Context, sessionID, userID string) (collab.Session, error)
	Evict(sessionID string)
}

// connHandle serializes registry-originated writes to one connection. It is
// the per-connection ordering point: Join reserves it before releasing the
// registry lock, so broadcasts that already target the connection queue
// behind the snapshot instead of stalling the whole registry.
type connHandle struct {
	mu   sync.Mutex
	conn Conn
}

func (h *connHandle) writeJSON(v any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn.WriteJSON(v)
}

type connMeta struct {
	sessionID string
	user      protocol.UserInfo
	handle    *connHandle
}

// Registry is the in-memory authority over live connections. It owns the
// session-keyed and user-keyed connection maps behind a single mutex; no raw
// map access escapes its methods.
type Registry struct {
	mu        sync.Mutex
	bySession map[string]map[Conn]struct{}
	byUser    map[string]map[Conn]struct{}
	meta      map[Conn]connMeta

	roster  Roster
	metrics *observability.Metrics
}

func New(roster Roster, metrics *observability.Metrics) *Registry {
	return &Registry{
		bySession: make(map[string]map[Conn]struct{}),
		byUser:    make(map[string]map[Conn]struct{}),
		meta:      make(map[Conn]connMeta),
		roster:    roster,
		metrics:   metrics,
	}
}

// Join registers a live connection under its session and user, updates the
// roster, unicasts the session snapshot to the newcomer, and then announces
// the join to the session's other connections.
//
// The connection's write handle is locked before the registry lock is
// released and stays locked until the snapshot is written. Any broadcast that
// targets the new connection queues behind the snapshot on that handle, so
// the client never sees an event referencing state it has not received, and
// a slow snapshot write stalls only its own connection.
func (r *Registry) Join(ctx context.Context, conn Conn, sessionID string, user protocol.UserInfo) (protocol.UserInfo, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
		log.Printf("registry: connection joined session %s without user id; assigned %s", sessionID, user.ID)
	}

	sess, err := r.roster.Join(ctx, sessionID, user.ID, user.Name)
	if err != nil {
		return user, err
	}

	handle := &connHandle{conn: conn}
	r.mu.Lock()
	if r.bySession[sessionID] == nil {
		r.bySession[sessionID] = make(map[Conn]struct{})
	}
	r.bySession[sessionID][conn] = struct{}{}
	if r.byUser[user.ID] == nil {
		r.byUser[user.ID] = make(map[Conn]struct{})
	}
	r.byUser[user.ID][conn] = struct{}{}
	r.meta[conn] = connMeta{sessionID: sessionID, user: user, handle: handle}

	count := len(r.bySession[sessionID])
	snapshot := protocol.SessionInfo{
		Type:              protocol.TypeSessionInfo,
		SessionID:         sessionID,
		Participants:      sess.ActiveParticipants(),
		ParticipantsCount: count,
		SharedCode:        sess.SharedCode,
		CurrentFile:       sess.CurrentFile,
	}
	peers := make([]*connHandle, 0, count)
	for c := range r.bySession[sessionID] {
		if c != conn {
			peers = append(peers, r.meta[c].handle)
		}
	}
	handle.mu.Lock()
	r.mu.Unlock()

	writeErr := conn.WriteJSON(snapshot)
	handle.mu.Unlock()

	if writeErr != nil {
		r.Leave(ctx, conn)
		return user, writeErr
	}

	r.observeGauges()
	if r.metrics != nil {
		r.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	joined := protocol.UserJoined{
		Type:              protocol.TypeUserJoined,
		User:              user,
		ParticipantsCount: count,
	}
	r.deliver(ctx, peers, joined)
	return user, nil
}

// Leave removes the connection from both maps. When it was the user's last
// connection in the session the roster entry is deactivated and a user_left
// event is broadcast; when it was the session's last connection the in-memory
// session entry is discarded (the durable session persists).
func (r *Registry) Leave(ctx context.Context, conn Conn) {
	r.mu.Lock()
	m, ok := r.meta[conn]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.meta, conn)

	sessionConns := r.bySession[m.sessionID]
	delete(sessionConns, conn)
	sessionEmpty := len(sessionConns) == 0
	if sessionEmpty {
		delete(r.bySession, m.sessionID)
	}

	userConns := r.byUser[m.user.ID]
	delete(userConns, conn)
	if len(userConns) == 0 {
		delete(r.byUser, m.user.ID)
	}

	lastOfUser := true
	remaining := make([]*connHandle, 0, len(sessionConns))
	for c := range sessionConns {
		remaining = append(remaining, r.meta[c].handle)
		if r.meta[c].user.ID == m.user.ID {
			lastOfUser = false
		}
	}
	r.mu.Unlock()

	_ = conn.Close()
	r.observeGauges()
	if r.metrics != nil {
		r.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}

	if lastOfUser {
		if _, err := r.roster.Leave(ctx, m.sessionID, m.user.ID); err != nil && !errors.Is(err, collab.ErrNotFound) {
			log.Printf("registry: roster leave for %s in session %s failed: %v", m.user.ID, m.sessionID, err)
		}
		if len(remaining) > 0 {
			r.deliver(ctx, remaining, protocol.UserLeft{
				Type:              protocol.TypeUserLeft,
				User:              m.user,
				ParticipantsCount: len(remaining),
			})
		}
	}
	if sessionEmpty {
		r.roster.Evict(m.sessionID)
	}
}

// Broadcast fans a payload out to every live connection in the session,
// optionally excluding one (usually the sender).
func (r *Registry) Broadcast(ctx context.Context, sessionID string, payload any, exclude Conn) {
	r.mu.Lock()
	targets := make([]*connHandle, 0, len(r.bySession[sessionID]))
	for c := range r.bySession[sessionID] {
		if c != exclude {
			targets = append(targets, r.meta[c].handle)
		}
	}
	r.mu.Unlock()

	r.deliver(ctx, targets, payload)
}

// Send unicasts to one registered connection, cleaning it up on failure.
func (r *Registry) Send(ctx context.Context, conn Conn, payload any) error {
	r.mu.Lock()
	m, ok := r.meta[conn]
	r.mu.Unlock()
	if !ok {
		return ErrNotJoined
	}
	if err := m.handle.writeJSON(payload); err != nil {
		r.Leave(ctx, conn)
		return err
	}
	return nil
}

// SendInvite delivers a targeted collaboration invite to every live
// connection of one user. The returned payload carries offline=true when no
// delivery succeeded; the caller is expected to rely on the durable invite
// row in that case.
func (r *Registry) SendInvite(ctx context.Context, inviteID, sessionID, projectName string, from protocol.UserInfo, toUserID string) protocol.CollaborationInvite {
	payload := protocol.CollaborationInvite{
		Type:           protocol.TypeCollaborationInvite,
		InviteID:       inviteID,
		SessionID:      sessionID,
		ProjectName:    projectName,
		FromUser:       from.Name,
		FromUserID:     from.ID,
		FromUserAvatar: from.Avatar,
		ToUserID:       toUserID,
		TSMillis:       time.Now().UnixMilli(),
	}

	r.mu.Lock()
	targets := make([]*connHandle, 0, len(r.byUser[toUserID]))
	for c := range r.byUser[toUserID] {
		targets = append(targets, r.meta[c].handle)
	}
	r.mu.Unlock()

	delivered := false
	var dead []*connHandle
	for _, h := range targets {
		if err := h.writeJSON(payload); err != nil {
			log.Printf("registry: invite delivery to user %s failed: %v", toUserID, err)
			dead = append(dead, h)
			continue
		}
		delivered = true
	}
	for _, h := range dead {
		r.Leave(ctx, h.conn)
	}

	payload.Offline = !delivered
	if !delivered {
		log.Printf("registry: user %s offline; invite %s falls back to durable record", toUserID, inviteID)
	}
	return payload
}

// Meta returns the session and user a connection was registered under.
func (r *Registry) Meta(conn Conn) (sessionID string, user protocol.UserInfo, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meta[conn]
	if !ok {
		return "", protocol.UserInfo{}, ErrNotJoined
	}
	return m.sessionID, m.user, nil
}

type SessionSummary struct {
	SessionID         string `json:"session_id"`
	ParticipantsCount int    `json:"participants_count"`
}

// ListActive summarizes sessions that have at least one live connection.
func (r *Registry) ListActive() []SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionSummary, 0, len(r.bySession))
	for id, conns := range r.bySession {
		out = append(out, SessionSummary{SessionID: id, ParticipantsCount: len(conns)})
	}
	return out
}

// deliver writes to each target behind its own error boundary; a failed
// connection is collected and cleaned up after the fan-out loop so one broken
// socket never blocks delivery to the rest.
func (r *Registry) deliver(ctx context.Context, targets []*connHandle, payload any) {
	var dead []*connHandle
	for _, h := range targets {
		if err := h.writeJSON(payload); err != nil {
			log.Printf("registry: broadcast delivery failed: %v", err)
			if r.metrics != nil {
				r.metrics.BroadcastErrors.Inc()
			}
			dead = append(dead, h)
		}
	}
	for _, h := range dead {
		r.Leave(ctx, h.conn)
	}
}

func (r *Registry) observeGauges() {
	if r.metrics == nil {
		return
	}
	r.mu.Lock()
	sessions := len(r.bySession)
	conns := len(r.meta)
	r.mu.Unlock()
	r.metrics.ActiveSessions.Set(float64(sessions))
	r.metrics.ActiveConnections.Set(float64(conns))
}
