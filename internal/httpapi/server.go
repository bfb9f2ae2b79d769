package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/codevoicehq/codevoice/internal/collab"
	"github.com/codevoicehq/codevoice/internal/config"
	"github.com/codevoicehq/codevoice/internal/generation"
	"github.com/codevoicehq/codevoice/internal/notify"
	"github.com/codevoicehq/codevoice/internal/observability"
	"github.com/codevoicehq/codevoice/internal/protocol"
	"github.com/codevoicehq/codevoice/internal/quota"
	"github.com/codevoicehq/codevoice/internal/registry"
)

type Server struct {
	cfg      config.Config
	sessions *collab.Manager
	registry *registry.Registry
	tasks    *generation.Manager
	notifier notify.Notifier
	guard    quota.Guard
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

// New wires the API surface. notifier may be nil; task streams then run on
// the polling fallback only.
func New(cfg config.Config, sessions *collab.Manager, reg *registry.Registry, tasks *generation.Manager, notifier notify.Notifier, guard quota.Guard, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		registry: reg,
		tasks:    tasks,
		notifier: notifier,
		guard:    guard,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other websites cannot drive a user's
				// collaboration session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/active", s.handleListActiveSessions)
	r.Get("/v1/sessions/code/{code}", s.handleGetSessionByCode)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/join", s.handleJoinSession)
	r.Post("/v1/sessions/{id}/leave", s.handleLeaveSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Post("/v1/sessions/{id}/invites", s.handleCreateInvite)
	r.Get("/v1/sessions/{id}/events", s.handleListEvents)
	r.Get("/v1/invites", s.handleListInvites)
	r.Post("/v1/invites/{id}/accept", s.handleAcceptInvite)

	r.Post("/v1/generation/generate/async", s.handleSubmitGeneration)
	r.Get("/v1/generation/tasks", s.handleListTasks)
	r.Get("/v1/generation/tasks/{id}", s.handleGetTask)
	r.Get("/v1/generation/templates", s.handleTemplates)
	r.Get("/v1/quota", s.handleQuota)

	r.Get("/ws/sessions", s.handleSessionWS)
	r.Get("/ws/tasks/{id}", s.handleTaskWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"push_enabled": s.notifier != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"push_enabled": s.notifier != nil,
	})
}

// identityFromRequest reads the caller identity from headers, falling back
// to query parameters for websocket clients that cannot set headers.
func identityFromRequest(r *http.Request) protocol.UserInfo {
	user := protocol.UserInfo{
		ID:     strings.TrimSpace(r.Header.Get("X-User-ID")),
		Name:   strings.TrimSpace(r.Header.Get("X-User-Name")),
		Avatar: strings.TrimSpace(r.Header.Get("X-User-Avatar")),
	}
	q := r.URL.Query()
	if user.ID == "" {
		user.ID = strings.TrimSpace(q.Get("user_id"))
	}
	if user.Name == "" {
		user.Name = strings.TrimSpace(q.Get("user_name"))
	}
	if user.Avatar == "" {
		user.Avatar = strings.TrimSpace(q.Get("user_avatar"))
	}
	return user
}

// requireIdentity enforces a hard identity requirement for REST operations.
// Live connections get the degraded-identity fallback instead.
func (s *Server) requireIdentity(w http.ResponseWriter, r *http.Request) (protocol.UserInfo, bool) {
	user := identityFromRequest(r)
	if user.ID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "caller identity is required")
		return protocol.UserInfo{}, false
	}
	return user, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
