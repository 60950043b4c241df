package api

import (
	"net/http"

	"taskgraph/pkg/authz"
	"taskgraph/pkg/report"
)

func (s *Server) handleReportDaily(w http.ResponseWriter, r *http.Request) {
	who, ok := actorID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := s.guard.Require(ctx, who, authz.CanView); err != nil {
		fail(w, err)
		return
	}
	day, err := report.ParseDay(r.URL.Query().Get("date"))
	if err != nil {
		fail(w, err)
		return
	}
	d, err := s.reports.Daily(ctx, day)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
