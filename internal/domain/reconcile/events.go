package reconcile

import "github.com/okian/crewmap/internal/domain/model"

// Event is a unit of reconciler work.
type Event interface {
	event()
}

// FeedBatch carries positions delivered by a poll or the push channel.
type FeedBatch struct {
	Positions []model.Position
}

// RosterChange carries the roster after a directory refresh.
type RosterChange struct {
	Members []model.Member
}

// ExternalPoint carries a trail point inserted by another client.
type ExternalPoint struct {
	Point model.TrailPoint
}

func (FeedBatch) event()     {}
func (RosterChange) event()  {}
func (ExternalPoint) event() {}
