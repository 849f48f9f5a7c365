// Package api provides the local status server for Aide.
// It exposes installation state, the feature registry, and the
// conversation log over a loopback HTTP listener.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aide-sh/aide/internal/infra/state"
)

// Server is the Aide status API server.
type Server struct {
	store   *state.Store
	version string
}

// NewServer creates a new status server over the given state store.
func NewServer(st *state.Store, version string) *Server {
	return &Server{store: st, version: version}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Get("/features", s.handleFeatures)
	r.Get("/conversation", s.handleConversation)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	phase, err := s.store.Phase()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	installed, _ := s.store.InstalledVersion()
	enginePath, _ := s.store.EnginePath()
	wrapperPath, _ := s.store.WrapperPath()
	sel, _ := s.store.Model()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase":             phase.String(),
		"installed_version": installed,
		"engine_path":       enginePath,
		"wrapper_path":      wrapperPath,
		"model": map[string]string{
			"name":   sel.Name,
			"path":   sel.Path,
			"status": string(sel.Status),
		},
	})
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.Features()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type feature struct {
		Index  int    `json:"index"`
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	out := make([]feature, 0, len(recs))
	for _, rec := range recs {
		out = append(out, feature{Index: rec.Index, Name: rec.Name, Status: string(rec.Status)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"features": out})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Conversation()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type turn struct {
		ID      string    `json:"id"`
		Role    string    `json:"role"`
		Content string    `json:"content"`
		At      time.Time `json:"at"`
	}
	out := make([]turn, 0, len(entries))
	for _, e := range entries {
		out = append(out, turn{ID: e.ID, Role: string(e.Role), Content: e.Content, At: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversation": out})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
