package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"taskgraph/pkg/actor"
	"taskgraph/pkg/audit"
	"taskgraph/pkg/authz"
	"taskgraph/pkg/dependency"
	"taskgraph/pkg/engine"
	"taskgraph/pkg/report"
	"taskgraph/pkg/store"
	"taskgraph/pkg/task"
)

// ActorHeader carries the id of the calling actor.
const ActorHeader = "X-Actor-ID"

// Server is the HTTP API server.
type Server struct {
	engine  *engine.Engine
	reports *report.Reporter
	actors  actor.Store
	guard   *authz.Guard
	bus     *audit.Bus
	mux     *http.ServeMux
}

// New creates a new Server.
func New(e *engine.Engine, reports *report.Reporter, actors actor.Store, guard *authz.Guard, bus *audit.Bus) *Server {
	s := &Server{
		engine:  e,
		reports: reports,
		actors:  actors,
		guard:   guard,
		bus:     bus,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Tasks
	s.mux.HandleFunc("GET /api/tasks", s.handleTaskList)
	s.mux.HandleFunc("POST /api/tasks", s.handleTaskCreate)
	s.mux.HandleFunc("GET /api/tasks/mine", s.handleTaskMine)
	s.mux.HandleFunc("GET /api/tasks/trashed", s.handleTaskTrashed)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleTaskGet)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.handleTaskUpdate)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleTaskDelete)
	s.mux.HandleFunc("POST /api/tasks/{id}/restore", s.handleTaskRestore)
	s.mux.HandleFunc("PUT /api/tasks/{id}/status", s.handleTaskStatus)
	s.mux.HandleFunc("PUT /api/tasks/{id}/assignee", s.handleTaskAssign)
	s.mux.HandleFunc("POST /api/tasks/{id}/recompute", s.handleTaskRecompute)
	s.mux.HandleFunc("GET /api/tasks/{id}/history", s.handleTaskHistory)

	// Dependencies
	s.mux.HandleFunc("GET /api/tasks/{id}/dependencies", s.handleDependencyList)
	s.mux.HandleFunc("POST /api/tasks/{id}/dependencies", s.handleDependencyAdd)
	s.mux.HandleFunc("DELETE /api/tasks/{id}/dependencies/{dep}", s.handleDependencyRemove)

	// Actors
	s.mux.HandleFunc("GET /api/actors", s.handleActorList)
	s.mux.HandleFunc("POST /api/actors", s.handleActorRegister)

	// Audit and reports
	s.mux.HandleFunc("GET /api/audit/stream", s.handleAuditStream)
	s.mux.HandleFunc("GET /api/audit/verify", s.handleAuditVerify)
	s.mux.HandleFunc("GET /api/reports/daily", s.handleReportDaily)

	// System
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps an error from the engine to a response.
func fail(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.Printf("api: %v", err)
	}
	writeError(w, code, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, authz.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, task.ErrNotFound), errors.Is(err, dependency.ErrNotFound), errors.Is(err, actor.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dependency.ErrCycleDetected):
		return http.StatusConflict
	case errors.Is(err, dependency.ErrInvalidEdge), errors.Is(err, task.ErrInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrConflict), errors.Is(err, task.ErrStale):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// actorID returns the calling actor or writes 401.
func actorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(ActorHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, ActorHeader+" header is required")
		return "", false
	}
	return id, true
}

// pathID parses an int64 path value or writes 400.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name+": "+r.PathValue(name))
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":           stats,
		"audit_listeners": s.bus.Subscribers(),
	})
}
