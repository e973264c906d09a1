// Package memstore is an in-memory directory and trail store. Writes publish
// change notifications synchronously to in-process subscribers.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/internal/domain/model"
)

// Store implements store.Store in memory.
type Store struct {
	mu      sync.RWMutex
	crews   map[string]model.Crew
	invites map[string]string // invite code -> crew id
	members map[string][]model.Member
	points  map[string][]model.TrailPoint // crew id -> points in insertion order
	closed  bool

	hub *store.Hub
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		crews:   make(map[string]model.Crew),
		invites: make(map[string]string),
		members: make(map[string][]model.Member),
		points:  make(map[string][]model.TrailPoint),
		hub:     store.NewHub(),
	}
}

func (s *Store) CreateCrew(_ context.Context, crew model.Crew) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	if _, ok := s.crews[crew.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: crew %s", store.ErrDuplicate, crew.ID)
	}
	if _, ok := s.invites[crew.InviteCode]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: invite code %s", store.ErrDuplicate, crew.InviteCode)
	}
	s.crews[crew.ID] = crew
	s.invites[crew.InviteCode] = crew.ID
	s.mu.Unlock()

	s.publish(store.TableCrews, crew.ID, crew)
	return nil
}

func (s *Store) Crew(_ context.Context, id string) (model.Crew, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.crews[id]
	if !ok {
		return model.Crew{}, fmt.Errorf("%w: crew %s", store.ErrNotFound, id)
	}
	return c, nil
}

func (s *Store) CrewByInviteCode(_ context.Context, code string) (model.Crew, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.invites[code]
	if !ok {
		return model.Crew{}, fmt.Errorf("%w: invite code %s", store.ErrNotFound, code)
	}
	return s.crews[id], nil
}

func (s *Store) AddMember(_ context.Context, member model.Member) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	if _, ok := s.crews[member.CrewID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: crew %s", store.ErrNotFound, member.CrewID)
	}
	for _, m := range s.members[member.CrewID] {
		if m.Name == member.Name {
			s.mu.Unlock()
			return fmt.Errorf("%w: member name %q", store.ErrDuplicate, member.Name)
		}
	}
	s.members[member.CrewID] = append(s.members[member.CrewID], member)
	s.mu.Unlock()

	s.publish(store.TableMembers, member.CrewID, member)
	return nil
}

func (s *Store) Members(_ context.Context, crewID string) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Member(nil), s.members[crewID]...), nil
}

func (s *Store) InsertPoint(_ context.Context, point model.TrailPoint) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	for _, p := range s.points[point.CrewID] {
		if p.ID == point.ID {
			s.mu.Unlock()
			return fmt.Errorf("%w: trail point %s", store.ErrDuplicate, point.ID)
		}
	}
	s.points[point.CrewID] = append(s.points[point.CrewID], point)
	s.mu.Unlock()

	s.publish(store.TableTrails, point.CrewID, point)
	return nil
}

func (s *Store) PointsForDay(_ context.Context, crewID, day string) ([]model.TrailPoint, error) {
	s.mu.RLock()
	out := make([]model.TrailPoint, 0)
	for _, p := range s.points[crewID] {
		if p.DayBucket == day {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, table store.Table, crewID string, fn func(store.Change)) (store.Subscription, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, store.ErrClosed
	}
	return s.hub.Subscribe(ctx, table, crewID, fn)
}

// Close rejects further writes and subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) publish(table store.Table, crewID string, row any) {
	c, err := store.NewChange(table, store.OpInsert, crewID, row)
	if err != nil {
		return
	}
	s.hub.Publish(c)
}
