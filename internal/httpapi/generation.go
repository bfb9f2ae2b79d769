package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/codevoicehq/codevoice/internal/generation"
)

// handleSubmitGeneration enqueues a background generation job. The quota
// guard runs before any state is created, so a denied request leaves no
// task record behind.
func (s *Server) handleSubmitGeneration(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	var request map[string]any
	if err := decodeJSON(r, &request); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if name, _ := request["project_name"].(string); strings.TrimSpace(name) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "project_name is required")
		return
	}

	if !s.guard.CheckAndDebit(r.Context(), user.ID, 1) {
		if s.metrics != nil {
			s.metrics.QuotaDecisions.WithLabelValues("denied").Inc()
		}
		respondError(w, http.StatusTooManyRequests, "quota_exceeded", "generation quota exhausted")
		return
	}
	if s.metrics != nil {
		s.metrics.QuotaDecisions.WithLabelValues("allowed").Inc()
	}

	task, err := s.tasks.Submit(r.Context(), user.ID, request)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "enqueue_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"task_id": task.ID,
		"status":  task.Status,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}

	task, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, generation.ErrNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", "task not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "task_fetch_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"task_id":       task.ID,
		"status":        task.Status,
		"result":        task.Result,
		"artifact_path": task.ArtifactPath,
		"error":         task.Error,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	tasks, err := s.tasks.List(r.Context(), user.ID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "task_list_failed", err.Error())
		return
	}
	if tasks == nil {
		tasks = []generation.Task{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":   user.ID,
		"remaining": s.guard.Remaining(r.Context(), user.ID),
	})
}

// handleTemplates lists the generator's supported project shapes. Static
// catalog; the generator service validates the actual combination.
func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"project_types": []string{
			"web_app", "mobile_app", "desktop_app", "api_server", "cli_tool",
			"machine_learning", "data_analysis", "game_dev", "microservice", "library",
		},
		"frameworks": []string{
			"react", "vue", "angular", "nextjs", "svelte",
			"fastapi", "flask", "django", "express", "spring_boot",
			"react_native", "flutter", "swift", "kotlin",
			"electron", "tkinter", "qt",
			"jupyter", "streamlit", "dash",
		},
		"complexity_levels": []string{"basic", "intermediate", "advanced", "enterprise"},
		"template_combinations": map[string][]string{
			"web_app":          {"react", "vue", "angular", "nextjs", "svelte"},
			"api_server":       {"fastapi", "flask", "django", "express", "spring_boot"},
			"mobile_app":       {"react_native", "flutter", "swift", "kotlin"},
			"desktop_app":      {"electron", "tkinter", "qt"},
			"machine_learning": {"jupyter", "streamlit", "dash"},
			"data_analysis":    {"jupyter", "streamlit", "dash"},
		},
		"features": []string{
			"user_authentication", "database_integration", "api_endpoints",
			"real_time_updates", "file_upload", "email_notifications",
			"payment_integration", "admin_dashboard", "user_profiles",
			"search_functionality", "caching", "logging", "monitoring",
			"rate_limiting", "internationalization",
		},
	})
}
