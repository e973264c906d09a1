package api

import (
	"net/http"
	"time"
)

// MarkerHandler serves the live map.
type MarkerHandler struct {
	deps Dependencies
}

// NewMarkerHandler creates a new marker handler.
func NewMarkerHandler(deps Dependencies) *MarkerHandler {
	return &MarkerHandler{deps: deps}
}

type markerResponse struct {
	MemberID   string    `json:"member_id"`
	Name       string    `json:"name"`
	Color      string    `json:"color"`
	DeviceID   string    `json:"device_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at"`
}

// HandleMarkers handles GET /markers requests.
func (h *MarkerHandler) HandleMarkers(w http.ResponseWriter, _ *http.Request) {
	markers := h.deps.Markers()
	out := make([]markerResponse, 0, len(markers))
	for _, m := range markers {
		out = append(out, markerResponse{
			MemberID:   m.Member.ID,
			Name:       m.Member.Name,
			Color:      m.Member.Color,
			DeviceID:   m.Member.DeviceID,
			Latitude:   m.Position.Latitude,
			Longitude:  m.Position.Longitude,
			ObservedAt: m.Position.ObservedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
