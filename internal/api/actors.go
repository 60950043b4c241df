package api

import (
	"fmt"
	"net/http"
	"strings"

	"taskgraph/pkg/actor"
	"taskgraph/pkg/task"
)

func (s *Server) handleActorList(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorID(w, r); !ok {
		return
	}
	actors, err := s.actors.List(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actors)
}

// handleActorRegister registers a human actor. Admin only.
func (s *Server) handleActorRegister(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := s.guard.RequireRole(ctx, who, actor.RoleAdmin); err != nil {
		fail(w, err)
		return
	}
	var req struct {
		Name  string     `json:"name"`
		Email string     `json:"email"`
		Role  actor.Role `json:"role"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		fail(w, fmt.Errorf("%w: name is required", task.ErrInvalid))
		return
	}
	if !req.Role.Valid() || req.Role == actor.RoleSystem {
		fail(w, fmt.Errorf("%w: role must be admin, manager or developer", task.ErrInvalid))
		return
	}
	a, err := s.actors.Register(ctx, actor.TypeHuman, req.Name, req.Email, req.Role)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}
