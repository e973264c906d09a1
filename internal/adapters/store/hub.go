package store

import (
	"context"
	"sync"

	"github.com/okian/crewmap/pkg/metrics"
)

type hubKey struct {
	table  Table
	crewID string
}

// Hub fans changes out to in-process subscribers keyed by table and crew.
// Handlers run on the publishing goroutine, outside the hub's lock.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[hubKey]map[uint64]func(Change)
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[hubKey]map[uint64]func(Change))}
}

// Subscribe registers fn for changes to table scoped to crewID.
func (h *Hub) Subscribe(_ context.Context, table Table, crewID string, fn func(Change)) (Subscription, error) {
	key := hubKey{table: table, crewID: crewID}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[key] == nil {
		h.subs[key] = make(map[uint64]func(Change))
	}
	h.subs[key][id] = fn
	h.mu.Unlock()

	metrics.AddActiveSubscriptions(1)
	return &hubSubscription{hub: h, key: key, id: id}, nil
}

// Publish delivers c to every matching subscriber.
func (h *Hub) Publish(c Change) {
	key := hubKey{table: c.Table, crewID: c.CrewID}

	h.mu.RLock()
	fns := make([]func(Change), 0, len(h.subs[key]))
	for _, fn := range h.subs[key] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	metrics.RecordChangeNotification(string(c.Table), string(c.Op))
	for _, fn := range fns {
		fn(c)
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}

func (h *Hub) remove(key hubKey, id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.subs[key]
	if !ok {
		return false
	}
	if _, ok := m[id]; !ok {
		return false
	}
	delete(m, id)
	if len(m) == 0 {
		delete(h.subs, key)
	}
	return true
}

type hubSubscription struct {
	hub  *Hub
	key  hubKey
	id   uint64
	once sync.Once
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		if s.hub.remove(s.key, s.id) {
			metrics.AddActiveSubscriptions(-1)
		}
	})
	return nil
}
