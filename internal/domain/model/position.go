package model

import "time"

// Position is the latest known fix for a device.
type Position struct {
	DeviceID   string    `json:"device_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewerThan reports whether p was observed strictly after other.
func (p Position) NewerThan(other Position) bool {
	return p.ObservedAt.After(other.ObservedAt)
}

// Device is a tracking device registered with the position provider.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	UniqueID string `json:"unique_id"`
}
