package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/codevoicehq/codevoice/internal/collab"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	var req collab.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, err := s.sessions.CreateSession(r.Context(), user.ID, user.Name, req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "session_create_failed", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user_id"))
	activeOnly := q.Get("active_only") == "true"
	limit, _ := strconv.Atoi(q.Get("limit"))

	sessions := s.sessions.List(r.Context(), userID, activeOnly, limit)
	if sessions == nil {
		sessions = []collab.Session{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleListActiveSessions reports sessions with at least one live
// connection, as seen by the registry.
func (s *Server) handleListActiveSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.registry.ListActive()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSessionByCode(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_code", "missing session code")
		return
	}
	sess, err := s.sessions.GetByCode(r.Context(), code)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.Join(r.Context(), id, user.ID, user.Name)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("joined").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLeaveSession(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.Leave(r.Context(), id, user.ID)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(r.Context(), id)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

type createInviteRequest struct {
	ToUserID string `json:"to_user_id"`
	ToEmail  string `json:"to_email"`
	Message  string `json:"message"`
}

// handleCreateInvite records a durable invite and attempts live delivery to
// the invitee's open connections. The response carries offline=true when no
// live delivery happened; the durable row is the fallback either way.
func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	var req createInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.ToUserID = strings.TrimSpace(req.ToUserID)
	if req.ToUserID == "" && strings.TrimSpace(req.ToEmail) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "to_user_id or to_email is required")
		return
	}

	inv, err := s.sessions.CreateInvite(r.Context(), id, user.ID, req.ToUserID, req.ToEmail, req.Message)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}

	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	payload := s.registry.SendInvite(r.Context(), inv.ID, id, sess.Name, user, req.ToUserID)

	respondJSON(w, http.StatusCreated, map[string]any{
		"invite":  inv,
		"offline": payload.Offline,
	})
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	invites, err := s.sessions.ListInvites(r.Context(), user.ID, strings.TrimSpace(r.URL.Query().Get("email")))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "invite_list_failed", err.Error())
		return
	}
	if invites == nil {
		invites = []collab.Invite{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"invites": invites})
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_invite_id", "missing invite id")
		return
	}

	sess, err := s.sessions.AcceptInvite(r.Context(), id, user.ID, user.Name)
	if err != nil {
		switch {
		case errors.Is(err, collab.ErrInviteNotFound):
			respondError(w, http.StatusNotFound, "invite_not_found", err.Error())
		case errors.Is(err, collab.ErrInviteExpired):
			respondError(w, http.StatusGone, "invite_expired", err.Error())
		default:
			s.respondSessionError(w, err)
		}
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := s.sessions.Events(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "event_list_failed", err.Error())
		return
	}
	if events == nil {
		events = []collab.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, collab.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, collab.ErrSessionFull):
		respondError(w, http.StatusConflict, "session_full", err.Error())
	case errors.Is(err, collab.ErrSessionEnded):
		respondError(w, http.StatusGone, "session_ended", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
