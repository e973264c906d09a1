// Package model contains domain models passed between layers.
package model

import "time"

// Crew is a named group of members sharing live location.
type Crew struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"invite_code"`
	CreatedAt  time.Time `json:"created_at"`
}

// Member belongs to exactly one crew and owns one tracking device.
type Member struct {
	ID        string    `json:"id"`
	CrewID    string    `json:"crew_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	DeviceID  string    `json:"device_id"` // provider device id, opaque
	CreatedAt time.Time `json:"created_at"`
}
