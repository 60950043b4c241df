package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"taskgraph/pkg/actor"
	"taskgraph/pkg/audit"
)

// keepAlive is the interval of SSE comment lines on an idle stream.
var keepAlive = 15 * time.Second

// handleAuditStream streams committed transition records as server-sent
// events. ?task= limits the stream to one task.
func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	var only int64
	if v := r.URL.Query().Get("task"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid task: "+v)
			return
		}
		only = id
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	ctx := r.Context()
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case rec, ok := <-ch:
			if !ok {
				return
			}
			if only != 0 && rec.TaskID != only {
				continue
			}
			data, err := json.Marshal(rec)
			if err != nil {
				log.Printf("SSE encode: %v", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: transition\ndata: %s\n\n", rec.Seq, data)
			flusher.Flush()
		}
	}
}

// handleAuditVerify checks the hash chain and the dependency graph. Admin only.
func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := s.guard.RequireRole(ctx, who, actor.RoleAdmin); err != nil {
		fail(w, err)
		return
	}
	result := map[string]any{"chain_ok": true}
	if err := s.engine.VerifyAudit(ctx); err != nil {
		if !errors.Is(err, audit.ErrChainBroken) {
			fail(w, err)
			return
		}
		result["chain_ok"] = false
		result["chain_error"] = err.Error()
	}
	cycle, err := s.engine.DetectCycles(ctx)
	if err != nil {
		fail(w, err)
		return
	}
	result["acyclic"] = cycle == nil
	if cycle != nil {
		result["cycle"] = cycle
	}
	writeJSON(w, http.StatusOK, result)
}
