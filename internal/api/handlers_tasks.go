package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskcron/internal/core"

	"github.com/go-chi/chi/v5"
)

type registerTaskRequest struct {
	Expression  string         `json:"expression"`
	Target      string         `json:"target"`
	Arguments   core.Arguments `json:"arguments"`
	Description string         `json:"description"`
	Enabled     bool           `json:"enabled"`
}

type updateTaskRequest struct {
	Expression *string `json:"expression"`
	Enabled    *bool   `json:"enabled"`
}

type taskResponse struct {
	Kind        string         `json:"kind"`
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Enabled     string         `json:"enabled"`
	Expression  string         `json:"expression"`
	Target      string         `json:"target"`
	Arguments   core.Arguments `json:"arguments,omitempty"`
	Description string         `json:"description,omitempty"`
	NextRunAt   *string        `json:"next_run_at,omitempty"`
	LastRunAt   *string        `json:"last_run_at,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

type resultResponse struct {
	Task       taskResponse `json:"task"`
	Outcome    string       `json:"outcome"`
	Error      string       `json:"error,omitempty"`
	StartedAt  string       `json:"started_at"`
	DurationMS int64        `json:"duration_ms"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	descriptors, err := s.scheduler.Catalog().AllTasks(r.Context())
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	res := make([]taskResponse, 0, len(descriptors))
	for _, d := range descriptors {
		if kind != "" && string(d.Kind) != kind {
			continue
		}
		res = append(res, descriptorToResponse(d))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRegisterTask(w http.ResponseWriter, r *http.Request) {
	var req registerTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "target is required")
		return
	}
	if strings.TrimSpace(req.Expression) == "" {
		req.Expression = core.DefaultExpression
	}

	catalog := s.scheduler.Catalog()
	task, err := catalog.Register(r.Context(), req.Expression, req.Target, req.Arguments, strings.TrimSpace(req.Description))
	if err != nil {
		s.writeCoreError(w, "register task", err)
		return
	}
	if req.Enabled {
		if task, err = catalog.Enable(r.Context(), task.ID()); err != nil {
			s.writeCoreError(w, "enable task", err)
			return
		}
	}
	s.logger.Info("task registered", "task_id", task.ID(), "target", task.Target(), "expression", task.Expression())
	writeJSON(w, http.StatusCreated, descriptorToResponse(core.Describe(core.KindStored, task)))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	d, err := s.scheduler.Catalog().Find(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeCoreError(w, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, descriptorToResponse(d))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	catalog := s.scheduler.Catalog()
	var (
		task *core.Task
		err  error
	)
	if req.Expression != nil {
		if task, err = catalog.SetSchedule(r.Context(), taskID, *req.Expression); err != nil {
			s.writeCoreError(w, "set schedule", err)
			return
		}
	}
	if req.Enabled != nil {
		if *req.Enabled {
			task, err = catalog.Enable(r.Context(), taskID)
		} else {
			task, err = catalog.Disable(r.Context(), taskID)
		}
		if err != nil {
			s.writeCoreError(w, "update task status", err)
			return
		}
	}
	if task == nil {
		s.handleGetTask(w, r)
		return
	}
	writeJSON(w, http.StatusOK, descriptorToResponse(core.Describe(core.KindStored, task)))
}

func (s *Server) handleEnableTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.scheduler.Catalog().Enable(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeCoreError(w, "enable task", err)
		return
	}
	writeJSON(w, http.StatusOK, descriptorToResponse(core.Describe(core.KindStored, task)))
}

func (s *Server) handleDisableTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.scheduler.Catalog().Disable(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeCoreError(w, "disable task", err)
		return
	}
	writeJSON(w, http.StatusOK, descriptorToResponse(core.Describe(core.KindStored, task)))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.scheduler.Catalog().Remove(r.Context(), taskID); err != nil {
		s.writeCoreError(w, "delete task", err)
		return
	}
	s.logger.Info("task removed", "task_id", taskID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	res, err := s.scheduler.RunSingle(r.Context(), chi.URLParam(r, "taskID"), s.now())
	if err != nil {
		s.writeCoreError(w, "run task", err)
		return
	}
	writeJSON(w, http.StatusOK, resultToResponse(*res))
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets := []string{}
	if s.targets != nil {
		targets = append(targets, s.targets.Targets()...)
	}
	writeJSON(w, http.StatusOK, targets)
}

// writeCoreError maps core error kinds onto HTTP status codes.
func (s *Server) writeCoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidExpression):
		writeError(w, http.StatusBadRequest, "invalid_cron", err.Error())
	case errors.Is(err, core.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, "invalid_target", err.Error())
	case errors.Is(err, core.ErrUnknownTask):
		writeError(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, core.ErrDuplicateTask):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.logger.Error(op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
	}
}

func descriptorToResponse(d core.Descriptor) taskResponse {
	res := taskResponse{
		Kind:        string(d.Kind),
		ID:          d.ID,
		Status:      d.Status.String(),
		Enabled:     d.Enabled,
		Expression:  d.Expression,
		Target:      d.Target,
		Description: d.Description,
		NextRunAt:   formatOptional(d.NextRunAt),
	}
	if d.LastRunAt != nil {
		res.LastRunAt = formatOptional(*d.LastRunAt)
	}
	if d.Task != nil {
		res.Arguments = d.Task.Arguments()
		res.CreatedAt = d.Task.CreatedAt().UTC().Format(time.RFC3339)
	}
	return res
}

func resultToResponse(res core.Result) resultResponse {
	out := resultResponse{
		Task:       descriptorToResponse(res.Task),
		Outcome:    string(res.Outcome),
		StartedAt:  res.StartedAt.UTC().Format(time.RFC3339),
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func formatOptional(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
