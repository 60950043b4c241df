package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"taskgraph/pkg/task"
)

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD or RFC 3339", task.ErrInvalid, s)
	}
	return t, nil
}

// parseFilter reads listing filters. depends_on=null selects tasks nothing
// depends on.
func parseFilter(r *http.Request) (task.Filter, error) {
	q := r.URL.Query()
	f := task.Filter{
		Status:     task.Status(q.Get("status")),
		Priority:   task.Priority(q.Get("priority")),
		Type:       task.Type(q.Get("type")),
		AssignedTo: q.Get("assigned_to"),
		Page:       queryInt(r, "page", 1),
		PerPage:    queryInt(r, "per_page", task.DefaultPerPage),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, fmt.Errorf("%w: unknown status %q", task.ErrInvalid, f.Status)
	}
	if v := q.Get("due_date"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return f, err
		}
		f.DueDate = &d
	}
	switch v := q.Get("depends_on"); v {
	case "":
	case "null":
		f.NoDependents = true
	default:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("%w: depends_on must be a task id or null", task.ErrInvalid)
		}
		f.DependsOn = &id
	}
	return f, nil
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		fail(w, err)
		return
	}
	page, err := s.engine.ListTasks(r.Context(), who, f)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleTaskMine(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		fail(w, err)
		return
	}
	page, err := s.engine.MyTasks(r.Context(), who, f)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleTaskTrashed(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		fail(w, err)
		return
	}
	page, err := s.engine.TrashedTasks(r.Context(), who, f)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	view, err := s.engine.GetTask(r.Context(), who, id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	var req struct {
		Title       string        `json:"title"`
		Description string        `json:"description"`
		Type        task.Type     `json:"type"`
		Status      task.Status   `json:"status"`
		Priority    task.Priority `json:"priority"`
		DueDate     string        `json:"due_date"`
		AssignedTo  string        `json:"assigned_to"`
	}
	if !decode(w, r, &req) {
		return
	}
	t := &task.Task{
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Status:      req.Status,
		Priority:    req.Priority,
		AssignedTo:  req.AssignedTo,
	}
	if req.DueDate != "" {
		d, err := parseDate(req.DueDate)
		if err != nil {
			fail(w, err)
			return
		}
		t.DueDate = &d
	}
	created, err := s.engine.CreateTask(r.Context(), who, t)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var updates map[string]any
	if !decode(w, r, &updates) {
		return
	}
	if v, ok := updates["due_date"].(string); ok {
		d, err := parseDate(v)
		if err != nil {
			fail(w, err)
			return
		}
		updates["due_date"] = d
	}
	out, err := s.engine.UpdateTask(r.Context(), who, id, updates)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTaskDelete trashes a task, or removes it for good with ?force=true.
func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if r.URL.Query().Get("force") == "true" {
		if err := s.engine.ForceDeleteTask(r.Context(), who, id); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	out, err := s.engine.DeleteTask(r.Context(), who, id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTaskRestore(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.engine.RestoreTask(r.Context(), who, id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Status task.Status `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	out, err := s.engine.RequestStatusTransition(r.Context(), who, id, req.Status)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTaskAssign(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		AssignedTo string `json:"assigned_to"`
	}
	if !decode(w, r, &req) {
		return
	}
	t, err := s.engine.AssignTask(r.Context(), who, id, req.AssignedTo)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskRecompute(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := s.engine.Recompute(r.Context(), who, id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	recs, err := s.engine.History(r.Context(), who, id, queryInt(r, "limit", 100))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
