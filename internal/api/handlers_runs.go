package api

import (
	"errors"
	"net/http"
	"time"

	"taskcron/internal/store"

	"github.com/go-chi/chi/v5"
)

type runResponse struct {
	ID         string  `json:"id"`
	TaskID     string  `json:"task_id"`
	Kind       string  `json:"kind"`
	Target     string  `json:"target"`
	Outcome    string  `json:"outcome"`
	StartedAt  string  `json:"started_at"`
	DurationMS int64   `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := s.scheduler.Catalog().Find(r.Context(), taskID); err != nil {
		s.writeCoreError(w, "load task", err)
		return
	}
	if s.runs == nil {
		writeJSON(w, http.StatusOK, []runResponse{})
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	runs, err := s.runs.List(r.Context(), taskID, limit, offset)
	if err != nil {
		s.logger.Error("list runs", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}

	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	run, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
		} else {
			s.logger.Error("get run", "run_id", runID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load run")
		}
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

func runToResponse(run *store.Run) runResponse {
	res := runResponse{
		ID:         run.ID,
		TaskID:     run.TaskID,
		Kind:       string(run.Kind),
		Target:     run.Target,
		Outcome:    string(run.Outcome),
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		DurationMS: run.Duration.Milliseconds(),
		CreatedAt:  run.CreatedAt.UTC().Format(time.RFC3339),
	}
	if run.Error != "" {
		msg := run.Error
		res.Error = &msg
	}
	return res
}
