package feed

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/okian/crewmap/internal/domain/model"
)

// flexID accepts a JSON number or string and keeps its text form.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// Credentials describes the provider session opened by Authenticate.
type Credentials struct {
	UserID string
	Name   string
	Email  string
}

type userRecord struct {
	ID    flexID `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type deviceRecord struct {
	ID       flexID `json:"id"`
	Name     string `json:"name"`
	UniqueID string `json:"uniqueId"`
}

func (d deviceRecord) toModel() model.Device {
	return model.Device{ID: string(d.ID), Name: d.Name, UniqueID: d.UniqueID}
}

type positionRecord struct {
	DeviceID   flexID  `json:"deviceId"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	FixTime    string  `json:"fixTime"`
	DeviceTime string  `json:"deviceTime"`
}

// socketMessage is one push frame. Frames may also carry devices or events,
// which the tracker ignores.
type socketMessage struct {
	Positions []positionRecord `json:"positions"`
}

// normalizePositions converts provider records. The observation time is
// fixTime, else deviceTime, else received. Records without a device id are dropped.
func normalizePositions(records []positionRecord, received time.Time) []model.Position {
	out := make([]model.Position, 0, len(records))
	for _, r := range records {
		if r.DeviceID == "" {
			continue
		}
		observed, ok := parseTime(r.FixTime)
		if !ok {
			observed, ok = parseTime(r.DeviceTime)
		}
		if !ok {
			observed = received
		}
		out = append(out, model.Position{
			DeviceID:   string(r.DeviceID),
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
			ObservedAt: observed,
		})
	}
	return out
}

var timeLayouts = []string{ //nolint:gochecknoglobals // fixed layouts
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// isDuplicateDeviceError matches the provider's duplicate uniqueId responses.
func isDuplicateDeviceError(body string) bool {
	return strings.Contains(body, "Duplicate entry") || strings.Contains(body, "uniqueId")
}
