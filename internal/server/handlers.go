package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mailsplit/mailsplit/internal/engine"
	"github.com/mailsplit/mailsplit/internal/store"
)

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var count int
	row := s.store.DB().QueryRowContext(r.Context(), "SELECT COUNT(*) FROM experiments")
	if err := row.Scan(&count); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var dbSize int64
	row = s.store.DB().QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	_ = row.Scan(&dbSize)

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		ExperimentsCount: count,
		DBSizeBytes:      dbSize,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	})
}

// handleEvents is the inbound pipeline beacon: one delivery/engagement event
// keyed by recipient address, fanned out to every active experiment the
// recipient belongs to.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev engine.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.engine.IngestEvent(r.Context(), ev); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, "Missing owner parameter", http.StatusBadRequest)
		return
	}

	exps, err := s.store.ListExperiments(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exps)
}

// handleExperiment routes /api/experiments/{id} and
// /api/experiments/{id}/{action}.
func (s *Server) handleExperiment(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/experiments/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		http.Error(w, "Missing experiment id", http.StatusBadRequest)
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getExperiment(w, r, id)
	case action == "start" && r.Method == http.MethodPost:
		s.actionResult(w, s.engine.Start(r.Context(), id))
	case action == "pause" && r.Method == http.MethodPost:
		s.actionResult(w, s.engine.Pause(r.Context(), id))
	case action == "resume" && r.Method == http.MethodPost:
		s.actionResult(w, s.engine.Resume(r.Context(), id))
	case action == "winner" && r.Method == http.MethodPost:
		s.declareWinner(w, r, id)
	case action == "analysis" && r.Method == http.MethodGet:
		s.analyze(w, r, id)
	case action == "rollout" && r.Method == http.MethodPost:
		s.rollout(w, r, id)
	case action == "insights" && r.Method == http.MethodGet:
		s.listInsights(w, r, id)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) getExperiment(w http.ResponseWriter, r *http.Request, id string) {
	exp, err := s.store.GetExperiment(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	variants, err := s.store.GetVariants(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"experiment": exp,
		"variants":   variants,
	})
}

func (s *Server) declareWinner(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		VariantID string `json:"variantId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VariantID == "" {
		http.Error(w, "variantId is required", http.StatusBadRequest)
		return
	}
	s.actionResult(w, s.engine.DeclareWinner(r.Context(), id, req.VariantID))
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request, id string) {
	report, err := s.engine.Analyze(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) rollout(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Percentage float64 `json:"percentage"`
	}
	// Empty body means a full rollout
	_ = json.NewDecoder(r.Body).Decode(&req)

	summary, err := s.engine.Rollout(r.Context(), id, req.Percentage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listInsights(w http.ResponseWriter, r *http.Request, id string) {
	insights, err := s.store.ListInsights(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func (s *Server) actionResult(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case engine.IsValidation(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.log.WithError(err).Error("request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
