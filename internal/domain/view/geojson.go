package view

import (
	"time"

	"github.com/okian/crewmap/internal/domain/model"
)

// Feature is a GeoJSON Feature holding a member's trail as a LineString.
type Feature struct {
	Type       string            `json:"type"`
	Geometry   LineString        `json:"geometry"`
	Properties FeatureProperties `json:"properties"`
}

// LineString is a GeoJSON LineString. Coordinates are [longitude, latitude].
type LineString struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// FeatureProperties describe how to draw the trail.
type FeatureProperties struct {
	MemberID  string    `json:"member_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Day       string    `json:"day"`
	Opacities []float64 `json:"opacities"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// FeatureCollection is a GeoJSON FeatureCollection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// TrailFeature renders member's trail. It returns false when the trail has
// fewer than two points.
func TrailFeature(member model.Member, points []model.TrailPoint, fade Fade, now time.Time) (Feature, bool) {
	line, ok := TrailGeometry(points)
	if !ok {
		return Feature{}, false
	}
	coords := make([][2]float64, len(line))
	for i, v := range line {
		coords[i] = [2]float64{v.Lng, v.Lat}
	}
	return Feature{
		Type:     "Feature",
		Geometry: LineString{Type: "LineString", Coordinates: coords},
		Properties: FeatureProperties{
			MemberID:  member.ID,
			Name:      member.Name,
			Color:     member.Color,
			Day:       points[0].DayBucket,
			Opacities: fade.Opacities(now, points),
			Start:     points[0].Timestamp,
			End:       points[len(points)-1].Timestamp,
		},
	}, true
}

// TrailCollection renders every member trail that forms a line, in roster order.
func TrailCollection(members []model.Member, trails map[string][]model.TrailPoint, fade Fade, now time.Time) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	for _, m := range members {
		if f, ok := TrailFeature(m, trails[m.ID], fade, now); ok {
			fc.Features = append(fc.Features, f)
		}
	}
	return fc
}
