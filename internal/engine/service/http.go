// internal/engine/service/http.go
package service

import (
	"encoding/json"
	"net/http"

	"marketplace-engine/internal/common/errors"
)

// RegisterRoutes mounts the operator API on mux. These endpoints are internal
// tooling surfaces, not the marketplace API: reads, aggregates, manual
// triggers and the reactivation action.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /applications/{id}", s.handleGetStatus)
	mux.HandleFunc("POST /applications/{id}/reactivate", s.handleReactivate)
	mux.HandleFunc("GET /applications/urgent", s.handleListUrgent)
	mux.HandleFunc("POST /checks/{kind}", s.handleTriggerCheck)
	mux.HandleFunc("POST /reconcile", s.handleReconcileAll)
	mux.HandleFunc("GET /stats/monitoring", s.handleMonitoringStats)
	mux.HandleFunc("GET /stats/revenue", s.handleRevenueStats)
	mux.HandleFunc("GET /stats/revenue/trends", s.handleRevenueTrends)
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	app, err := s.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, app)
}

func (s *Service) handleReactivate(w http.ResponseWriter, r *http.Request) {
	if err := s.Reactivate(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reactivated"})
}

func (s *Service) handleListUrgent(w http.ResponseWriter, r *http.Request) {
	urgent, err := s.ListUrgent(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(urgent),
		"applications": urgent,
	})
}

func (s *Service) handleTriggerCheck(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if err := s.TriggerManualCheck(r.Context(), kind); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "kind": kind})
}

func (s *Service) handleReconcileAll(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ReconcileAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Service) handleMonitoringStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.GetMonitoringStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Service) handleRevenueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.GetRevenueStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Service) handleRevenueTrends(w http.ResponseWriter, r *http.Request) {
	trends, err := s.GetRevenueTrends(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"days": trends})
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsCode(err, errors.ErrCodeInvalidTransition):
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
