// Package view derives renderable state from the live map and today's
// trails. Every function is pure.
package view

import (
	"time"

	"github.com/okian/crewmap/internal/domain/model"
)

// Marker is the current position of one member.
type Marker struct {
	Member   model.Member   `json:"member"`
	Position model.Position `json:"position"`
}

// CurrentMarkers returns one marker per member with a live position, in
// roster order. Live entries for devices outside the roster are ignored.
func CurrentMarkers(members []model.Member, live map[string]model.Position) []Marker {
	out := make([]Marker, 0, len(members))
	for _, m := range members {
		if m.DeviceID == "" {
			continue
		}
		p, ok := live[m.DeviceID]
		if !ok {
			continue
		}
		out = append(out, Marker{Member: m, Position: p})
	}
	return out
}

// LatLng is one polyline vertex.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TrailGeometry returns the polyline through points in their given order.
// Fewer than two points cannot form a line and yield false.
func TrailGeometry(points []model.TrailPoint) ([]LatLng, bool) {
	if len(points) < 2 {
		return nil, false
	}
	line := make([]LatLng, len(points))
	for i, p := range points {
		line[i] = LatLng{Lat: p.Latitude, Lng: p.Longitude}
	}
	return line, true
}

// Default fade parameters.
const (
	DefaultFadeMaxAge     = 24 * time.Hour
	DefaultFadeMinOpacity = 0.1
)

// Fade maps point age to opacity: 1 for a fresh point, falling linearly to
// MinOpacity at MaxAge and staying there.
type Fade struct {
	MaxAge     time.Duration
	MinOpacity float64
}

// DefaultFade returns the 24h fade floored at 0.1.
func DefaultFade() Fade {
	return Fade{MaxAge: DefaultFadeMaxAge, MinOpacity: DefaultFadeMinOpacity}
}

// Opacity returns the opacity of a point recorded at ts, seen at now.
func (f Fade) Opacity(now, ts time.Time) float64 {
	if f.MaxAge <= 0 {
		return 1
	}
	age := now.Sub(ts)
	if age <= 0 {
		return 1
	}
	o := 1 - float64(age)/float64(f.MaxAge)
	if o < f.MinOpacity {
		return f.MinOpacity
	}
	return o
}

// Opacities returns the opacity of each point in order.
func (f Fade) Opacities(now time.Time, points []model.TrailPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = f.Opacity(now, p.Timestamp)
	}
	return out
}
