// Package server exposes the serving API: low-latency online vector reads,
// point-in-time historical retrieval, and read-only views of the catalog,
// run ledger, and drift alerts.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feature-store/internal/drift"
	"github.com/sells-group/feature-store/internal/materialize"
	"github.com/sells-group/feature-store/internal/model"
	"github.com/sells-group/feature-store/internal/offline"
	"github.com/sells-group/feature-store/internal/online"
	"github.com/sells-group/feature-store/internal/registry"
)

// Server wires the stores behind the HTTP API.
type Server struct {
	online   online.Store
	offline  offline.Store
	registry *registry.Registry
	runs     *materialize.ComputeLog
	drift    *drift.Monitor
	log      *zap.Logger
}

// New creates a Server over the given components.
func New(on online.Store, off offline.Store, reg *registry.Registry, runs *materialize.ComputeLog, monitor *drift.Monitor) *Server {
	return &Server{
		online:   on,
		offline:  off,
		registry: reg,
		runs:     runs,
		drift:    monitor,
		log:      zap.L().With(zap.String("component", "server")),
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/features", s.handleListFeatures)
		r.Get("/features/{feature_id}", s.handleGetFeature)
		r.Get("/features/online/{entity_type}/{entity_id}", s.handleOnlineVector)
		r.Post("/features/historical", s.handleHistorical)
		r.Get("/featuresets/{set_id}", s.handleGetSet)
		r.Get("/runs", s.handleRuns)
		r.Get("/alerts", s.handleAlerts)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	s.log.Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	defs, err := s.registry.List(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"features": defs})
}

func (s *Server) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	def, err := s.registry.Get(r.Context(), chi.URLParam(r, "feature_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleGetSet(w http.ResponseWriter, r *http.Request) {
	set, err := s.registry.GetSet(r.Context(), chi.URLParam(r, "set_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleOnlineVector(w http.ResponseWriter, r *http.Request) {
	vec, err := s.online.GetVector(r.Context(), chi.URLParam(r, "entity_type"), chi.URLParam(r, "entity_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vec)
}

type historicalRequest struct {
	FeatureIDs []string `json:"feature_ids"`
	Rows       []struct {
		EntityID string    `json:"entity_id"`
		AsOf     time.Time `json:"as_of"`
	} `json:"rows"`
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	var req historicalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.FeatureIDs) == 0 || len(req.Rows) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "feature_ids and rows are required"})
		return
	}

	reqs := make([]model.PointInTimeRequest, 0, len(req.Rows))
	for _, row := range req.Rows {
		if row.EntityID == "" || row.AsOf.IsZero() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "each row needs entity_id and as_of"})
			return
		}
		reqs = append(reqs, model.PointInTimeRequest{EntityID: row.EntityID, AsOf: row.AsOf})
	}

	rows, err := s.offline.PointInTime(r.Context(), req.FeatureIDs, reqs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.drift.Recent(r.Context(), r.URL.Query().Get("feature_id"), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, model.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
