package api

import (
	"net/http"
)

func (s *Server) handleDependencyList(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	edges, err := s.engine.Dependencies(r.Context(), who, id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edges)
}

func (s *Server) handleDependencyAdd(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		DependsOnID int64 `json:"depends_on_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.DependsOnID <= 0 {
		writeError(w, http.StatusBadRequest, "depends_on_id is required")
		return
	}
	out, err := s.engine.AddDependency(r.Context(), who, id, req.DependsOnID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleDependencyRemove(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	dep, ok := pathID(w, r, "dep")
	if !ok {
		return
	}
	out, err := s.engine.RemoveDependency(r.Context(), who, id, dep)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
