package jsonwatch

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/jsonwatch/internal/observability"
	"github.com/hazyhaar/jsonwatch/shield"
)

// Handler returns the status API:
//
//	GET /health    liveness, whether a snapshot is held and the latest
//	               heartbeat (503 once it goes stale)
//	GET /stats     watcher counters
//	GET /snapshot  the held snapshot (404 before the first fetch)
//	GET /cycles    recent poll cycles, ?limit=n (404 without observability)
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(shield.Stack(s.logger)...)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/snapshot", s.handleSnapshot)
	r.Get("/cycles", s.handleCycles)
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	body := map[string]any{
		"source": s.cfg.Source.URL,
		"seeded": s.watcher.State().Seeded(),
	}
	if s.db != nil {
		hb, err := observability.LatestHeartbeat(r.Context(), s.db, heartbeatWorker, 3*s.cfg.Observability.HeartbeatInterval)
		if err != nil {
			s.logger.Warn("jsonwatch: read heartbeat", "error", err)
		}
		if hb != nil {
			body["heartbeat"] = hb
			if !hb.Alive {
				status, code = "stale", http.StatusServiceUnavailable
			}
		}
	}
	body["status"] = status
	writeJSON(w, code, body)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.watcher.Stats())
}

func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.watcher.State().Last()
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot yet"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.cycles == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "cycle log disabled"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1..1000"})
			return
		}
		limit = n
	}
	recs, err := s.cycles.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("jsonwatch: read cycles", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cycle log unavailable"})
		return
	}
	if recs == nil {
		recs = []observability.CycleRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
