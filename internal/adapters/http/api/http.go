// Package api serves the read-only status surface of a running tracker.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/crewmap/internal/app"
	"github.com/okian/crewmap/internal/domain/view"
)

// Dependencies required by HTTP handlers. *app.Tracker satisfies it.
type Dependencies interface {
	Markers() []view.Marker
	Trails(ctx context.Context) view.FeatureCollection
	Trail(ctx context.Context, memberID string) (view.Feature, bool)
	Stats(ctx context.Context) app.Stats
}

// Server wires HTTP routes for the status API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	markerHandler *MarkerHandler
	trailHandler  *TrailHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler: NewHealthHandler(deps),
		statsHandler:  NewStatsHandler(deps),
		markerHandler: NewMarkerHandler(deps),
		trailHandler:  NewTrailHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /markers", MetricsMiddleware(s.markerHandler.HandleMarkers, "markers"))
	mux.HandleFunc("GET /trails", MetricsMiddleware(s.trailHandler.HandleTrails, "trails"))
	mux.HandleFunc("GET /trails/{memberID}", MetricsMiddleware(s.trailHandler.HandleTrail, "trail"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
