package main

import (
	"net/http"
	"strconv"
)

// handleDashboard shows the user's overview. Entering the dashboard drops cached feedback
// so the next performance view is generated from current results.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if err := s.performance.InvalidateFeedback(r.Context(), uid); err != nil {
		s.log.Warnw("failed to invalidate feedback", "user_id", uid, "error", err)
	}
	stats, err := s.engine.Dashboard(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	report, err := s.performance.Report(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	recent, err := s.engine.Recent(r.Context(), userID(r), queryLimit(r, 20))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, recent)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.db.Leaderboard(r.Context(), queryLimit(r, 10))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 100 {
		return def
	}
	return n
}
