package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/codevoicehq/codevoice/internal/collab"
	"github.com/codevoicehq/codevoice/internal/generation"
	"github.com/codevoicehq/codevoice/internal/notify"
	"github.com/codevoicehq/codevoice/internal/protocol"
	"github.com/codevoicehq/codevoice/internal/registry"
)

// wsConn serializes writes to one websocket. The registry broadcasts from
// multiple reader goroutines, and gorilla allows one concurrent writer only.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
	once sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// handleSessionWS is the live collaboration channel. The connection is
// registered for fan-out, receives the roster snapshot first, and then
// relays every inbound message to the session's other connections.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	user := identityFromRequest(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wsc := newWSConn(conn)

	user, err = s.registry.Join(r.Context(), wsc, sessionID, user)
	if err != nil {
		_ = wsc.WriteJSON(protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   joinErrorCode(err),
			Detail: err.Error(),
		})
		_ = wsc.Close()
		return
	}
	// Background context: the request context is already cancelled by the
	// time the deferred cleanup runs.
	defer s.registry.Leave(context.Background(), wsc)

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = s.registry.Send(r.Context(), wsc, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", string(parsed.Type)).Inc()
		}

		switch parsed.Type {
		case protocol.TypeCodeChange:
			code, _ := parsed.Fields["code"].(string)
			file, _ := parsed.Fields["file"].(string)
			if file == "" {
				file, _ = parsed.Fields["current_file"].(string)
			}
			s.sessions.UpdateSharedCode(sessionID, user.ID, code, file)
		case protocol.TypeCursorPosition:
			cursor, _ := parsed.Fields["position"].(map[string]any)
			s.sessions.TouchCursor(sessionID, user.ID, cursor)
		}

		var exclude registry.Conn = wsc
		if parsed.BroadcastToSender() {
			exclude = nil
		}
		s.registry.Broadcast(r.Context(), sessionID, parsed.Stamp(user, time.Now().UnixMilli()), exclude)
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("outbound", string(parsed.Type)).Inc()
		}
	}
}

// handleTaskWS streams status updates for one generation task and closes
// after the terminal message. It runs in exactly one of two modes: push via
// the notification backend, or polling the task record.
func (s *Server) handleTaskWS(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wsc := newWSConn(conn)
	defer wsc.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain reads so a client disconnect cancels the stream promptly.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	src, mode := s.streamSource(ctx, taskID)
	defer src.Close()
	if s.metrics != nil {
		s.metrics.StreamMode.WithLabelValues(mode).Inc()
	}

	// A task that went terminal before the subscription was set up would
	// never publish again; serve the stored record instead of hanging. The
	// same check rejects streams for ids that do not exist, which would
	// otherwise wait forever for an event that never comes.
	if mode == "push" {
		task, err := s.tasks.Get(ctx, taskID)
		switch {
		case errors.Is(err, generation.ErrNotFound):
			_ = wsc.WriteJSON(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "task_not_found",
				Detail: "task not found",
			})
			return
		case err == nil && task.Status.Terminal():
			_ = wsc.WriteJSON(generation.EventFromTask(task))
			return
		}
	}

	for {
		evt, err := src.Next(ctx)
		if err != nil {
			if !errors.Is(err, notify.ErrStreamClosed) && !errors.Is(err, context.Canceled) {
				log.Printf("httpapi: task stream %s failed: %v", taskID, err)
				_ = wsc.WriteJSON(protocol.ErrorEvent{
					Type:   protocol.TypeErrorEvent,
					Code:   "stream_failed",
					Detail: err.Error(),
				})
			}
			return
		}
		if err := wsc.WriteJSON(evt); err != nil {
			return
		}
		if evt.Status.Terminal() || evt.Error != "" {
			return
		}
	}
}

// streamSource picks push when the notification backend accepts the
// subscription, and silently falls back to polling otherwise.
func (s *Server) streamSource(ctx context.Context, taskID string) (notify.Source, string) {
	if s.notifier != nil {
		sub, err := s.notifier.Subscribe(ctx, taskID)
		if err == nil {
			return notify.NewPubsubSource(sub), "push"
		}
		log.Printf("httpapi: subscribe for task %s failed, polling instead: %v", taskID, err)
	}
	fetch := func(ctx context.Context, id string) (generation.Task, error) {
		return s.tasks.Get(ctx, id)
	}
	return notify.NewPollSource(fetch, taskID, s.cfg.StreamPollInterval), "poll"
}

func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, collab.ErrNotFound):
		return "session_not_found"
	case errors.Is(err, collab.ErrSessionFull):
		return "session_full"
	case errors.Is(err, collab.ErrSessionEnded):
		return "session_ended"
	}
	return "join_failed"
}
