// ABOUTME: Handler methods for the operability API: executions, traces, router and queue stats, combining.
// ABOUTME: The combined artifact view renders the stored markdown to HTML with goldmark.
package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/murtihash94/kasal-sub013/store"
	"github.com/murtihash94/kasal-sub013/tracking"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListExecutions returns a page of executions filtered by status. The
// status parameter is a comma-separated set; absent means all statuses.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	statuses := parseStatuses(r.URL.Query().Get("status"))
	if len(statuses) == 0 {
		statuses = []tracking.ExecutionStatus{
			tracking.StatusPending, tracking.StatusPreparing, tracking.StatusRunning,
			tracking.StatusCompleted, tracking.StatusFailed, tracking.StatusCancelled,
		}
	}
	limit := intParam(r, "limit", 100)
	offset := intParam(r, "offset", 0)

	records, err := s.store.ListByStatus(r.Context(), statuses, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []tracking.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": records})
}

// handleCreateExecution registers a new execution record on behalf of the
// orchestration layer, minting an id when the caller does not supply one.
func (s *Server) handleCreateExecution(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string                    `json:"id"`
		RunName string                    `json:"run_name"`
		Tasks   []tracking.TaskDefinition `json:"tasks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if err := s.store.CreateExecution(r.Context(), req.ID, req.RunName, tracking.StatusPending); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	for i, def := range req.Tasks {
		if err := s.store.UpsertTask(r.Context(), req.ID, def, tracking.StatusPending, i); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	rec, err := s.store.GetExecution(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}

	tasks, err := s.store.TaskStatuses(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"execution": rec, "tasks": tasks})
}

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	filter := store.TraceFilter{
		EventType: r.URL.Query().Get("event_type"),
		Source:    r.URL.Query().Get("source"),
		Limit:     intParam(r, "limit", 100),
		Offset:    intParam(r, "offset", 0),
	}

	traces, total, err := s.store.ListTraces(r.Context(), jobID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if traces == nil {
		traces = []tracking.TraceEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": traces, "total": total})
}

func (s *Server) handleTailTraces(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	n := intParam(r, "n", 20)

	traces, err := s.store.TailTraces(r.Context(), jobID, n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if traces == nil {
		traces = []tracking.TraceEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": traces})
}

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_registrations": s.events.ActiveCount(),
		"tracked_roles":        s.events.TrackedRoles(),
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"buffered": s.queue.Len(),
		"capacity": s.queue.Cap(),
	})
}

// handleCombine triggers an explicit combination. force defaults to true
// since the caller is declaring the job finished; pass force=false for the
// opportunistic all-tasks-done check instead.
func (s *Server) handleCombine(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	force := true
	if v := r.URL.Query().Get("force"); v != "" {
		force = v == "true" || v == "1"
	}

	path, err := s.combiner.Combine(r.Context(), jobID, force)
	if errors.Is(err, tracking.ErrNoRunMetadata) {
		writeError(w, http.StatusNotFound, "no run metadata for execution")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if path == "" {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "not all tasks completed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

// handleCombinedDocument renders the recorded combined markdown as HTML.
func (s *Server) handleCombinedDocument(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	rec, err := s.store.GetExecution(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil || rec.CombinedPath == "" {
		writeError(w, http.StatusNotFound, "no combined document for execution")
		return
	}

	content, err := os.ReadFile(rec.CombinedPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "combined document missing from disk")
		return
	}

	var buf bytes.Buffer
	if err := goldmark.New().Convert(content, &buf); err != nil {
		writeError(w, http.StatusInternalServerError, "rendering combined document failed")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func parseStatuses(param string) []tracking.ExecutionStatus {
	if param == "" {
		return nil
	}
	var statuses []tracking.ExecutionStatus
	for _, part := range strings.Split(param, ",") {
		status := tracking.ExecutionStatus(strings.ToUpper(strings.TrimSpace(part)))
		if status.Valid() {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
