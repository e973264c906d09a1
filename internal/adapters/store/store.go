// Package store defines the directory and trail store contract, the change
// notification model, and an in-process fan-out hub shared by backends.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/okian/crewmap/internal/domain/model"
)

// Table names a record collection that emits change notifications.
type Table string

// Collections.
const (
	TableCrews   Table = "crews"
	TableMembers Table = "crew_members"
	TableTrails  Table = "location_trails"
)

// Op is the kind of row change.
type Op string

// Change operations.
const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Change describes one row change, scoped to a crew.
type Change struct {
	Table  Table           `json:"table"`
	Op     Op              `json:"op"`
	CrewID string          `json:"crew_id"`
	Row    json.RawMessage `json:"row"`
}

// NewChange encodes row into a Change.
func NewChange(table Table, op Op, crewID string, row any) (Change, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return Change{}, fmt.Errorf("encode %s row: %w", table, err)
	}
	return Change{Table: table, Op: op, CrewID: crewID, Row: raw}, nil
}

// Member decodes the row of a crew_members change.
func (c Change) Member() (model.Member, error) {
	var m model.Member
	if err := json.Unmarshal(c.Row, &m); err != nil {
		return model.Member{}, fmt.Errorf("%w: member row: %v", ErrMalformedChange, err)
	}
	return m, nil
}

// TrailPoint decodes the row of a location_trails change.
func (c Change) TrailPoint() (model.TrailPoint, error) {
	var p model.TrailPoint
	if err := json.Unmarshal(c.Row, &p); err != nil {
		return model.TrailPoint{}, fmt.Errorf("%w: trail row: %v", ErrMalformedChange, err)
	}
	return p, nil
}

// Directory stores crews and their members.
type Directory interface {
	// CreateCrew inserts a crew. Returns ErrDuplicate if the invite code is taken.
	CreateCrew(ctx context.Context, crew model.Crew) error

	// Crew returns a crew by id or ErrNotFound.
	Crew(ctx context.Context, id string) (model.Crew, error)

	// CrewByInviteCode returns a crew by invite code or ErrNotFound.
	CrewByInviteCode(ctx context.Context, code string) (model.Crew, error)

	// AddMember inserts a member. Returns ErrDuplicate if the name is taken in the crew.
	AddMember(ctx context.Context, member model.Member) error

	// Members returns every member of a crew ordered by creation time.
	Members(ctx context.Context, crewID string) ([]model.Member, error)
}

// Trails stores day-bucketed trail points.
type Trails interface {
	// InsertPoint appends one trail point.
	InsertPoint(ctx context.Context, point model.TrailPoint) error

	// PointsForDay returns a crew's points for one day bucket ordered by timestamp ascending.
	PointsForDay(ctx context.Context, crewID, day string) ([]model.TrailPoint, error)
}

// Subscription is an open change listener.
type Subscription interface {
	// Close stops delivery. It is safe to call more than once.
	Close() error
}

// Notifier delivers row changes for one table and crew.
type Notifier interface {
	Subscribe(ctx context.Context, table Table, crewID string, fn func(Change)) (Subscription, error)
}

// Store bundles everything the tracker consumes.
type Store interface {
	Directory
	Trails
	Notifier
	Close() error
}
