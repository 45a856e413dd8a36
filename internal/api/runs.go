package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"bytemomo/armada/internal/domain"
	"bytemomo/armada/internal/store"

	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type healthResponse struct {
	Status string `json:"status"`
}

type listRunsResponse struct {
	Runs   []*store.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type runResponse struct {
	Run     *store.Run               `json:"run"`
	Results []domain.ExecutionResult `json:"results"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.log.WithError(err).Error("List runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	s.writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("run", id).Error("Get run")
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	results, err := s.store.ListResults(r.Context(), id)
	if err != nil {
		s.log.WithError(err).WithField("run", id).Error("List results")
		s.writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if results == nil {
		results = []domain.ExecutionResult{}
	}
	s.writeJSON(w, http.StatusOK, runResponse{Run: run, Results: results})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("Encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func parseIntQuery(r *http.Request, key string, defaultVal int) int {
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
