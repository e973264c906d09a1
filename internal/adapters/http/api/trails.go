package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// TrailHandler serves today's trails as GeoJSON.
type TrailHandler struct {
	deps Dependencies
}

// NewTrailHandler creates a new trail handler.
func NewTrailHandler(deps Dependencies) *TrailHandler {
	return &TrailHandler{deps: deps}
}

const geoJSONContentType = "application/geo+json"

// HandleTrails handles GET /trails requests.
func (h *TrailHandler) HandleTrails(w http.ResponseWriter, r *http.Request) {
	writeGeoJSON(w, h.deps.Trails(r.Context()))
}

// HandleTrail handles GET /trails/{memberID} requests.
func (h *TrailHandler) HandleTrail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("memberID"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	f, ok := h.deps.Trail(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", ErrNoTrail)
		return
	}
	writeGeoJSON(w, f)
}

func writeGeoJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", geoJSONContentType)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
