package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"taskcron/internal/core"
)

type cronPreviewRequest struct {
	Expr  string `json:"expr"`
	Now   string `json:"now,omitempty"`
	Count int    `json:"count,omitempty"`
}

type cronPreviewResponse struct {
	Valid     bool     `json:"valid"`
	NextTimes []string `json:"next_times,omitempty"`
	Message   string   `json:"message,omitempty"`
}

type runCycleRequest struct {
	DryRun bool `json:"dry_run"`
}

type cycleResponse struct {
	Now     string           `json:"now"`
	DryRun  bool             `json:"dry_run"`
	Status  string           `json:"status"`
	Failed  int              `json:"failed"`
	Results []resultResponse `json:"results"`
}

func (s *Server) handleCronPreview(w http.ResponseWriter, r *http.Request) {
	var req cronPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, cronPreviewResponse{Valid: false, Message: "invalid JSON payload"})
		return
	}
	expr := strings.TrimSpace(req.Expr)
	if expr == "" {
		writeJSON(w, http.StatusBadRequest, cronPreviewResponse{Valid: false, Message: "cron expression is required"})
		return
	}
	schedule, err := core.ParseCron(expr)
	if err != nil {
		writeJSON(w, http.StatusOK, cronPreviewResponse{Valid: false, Message: err.Error()})
		return
	}

	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}

	base := time.Now().In(s.location)
	if req.Now != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Now); err == nil {
			base = parsed.In(s.location)
		}
	}

	times := core.NextOccurrences(schedule, base, count)
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, t.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, cronPreviewResponse{Valid: true, NextTimes: formatted})
}

// handleRunCycle runs one cycle at the current minute. An empty body means a
// real run.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	var req runCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	now := s.now().Truncate(time.Minute)
	report, err := s.scheduler.RunCycle(r.Context(), now, req.DryRun)
	if err != nil {
		s.logger.Error("run cycle", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to run cycle")
		return
	}
	res := cycleResponse{
		Now:     report.Now.UTC().Format(time.RFC3339),
		DryRun:  report.DryRun,
		Status:  string(report.Status),
		Failed:  report.Failed(),
		Results: make([]resultResponse, 0, len(report.Results)),
	}
	for _, result := range report.Results {
		res.Results = append(res.Results, resultToResponse(result))
	}
	writeJSON(w, http.StatusOK, res)
}
