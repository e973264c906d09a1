package app

import (
	"context"
	"sync"

	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/pkg/metrics"
)

// pointRelay moves trail insert notifications off the publishing goroutine.
// push never blocks; a single pump goroutine forwards points in arrival
// order. Beyond limit pending points the oldest is dropped.
type pointRelay struct {
	limit  int
	signal chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	pending []model.TrailPoint
}

func newPointRelay(limit int) *pointRelay {
	if limit < 1 {
		limit = 1
	}
	return &pointRelay{
		limit:  limit,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push queues p for forwarding. It reports false when an older point was
// dropped to make room.
func (r *pointRelay) push(p model.TrailPoint) bool {
	r.mu.Lock()
	kept := true
	if len(r.pending) >= r.limit {
		r.pending = r.pending[1:]
		kept = false
	}
	r.pending = append(r.pending, p)
	r.mu.Unlock()

	if !kept {
		metrics.RecordTrailNotificationDropped()
	}
	select {
	case r.signal <- struct{}{}:
	default:
	}
	return kept
}

func (r *pointRelay) take() []model.TrailPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

// len returns the number of points waiting to be forwarded.
func (r *pointRelay) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// run forwards pending points to put until ctx is done.
func (r *pointRelay) run(ctx context.Context, put func(context.Context, model.TrailPoint) error) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.signal:
		}
		for _, p := range r.take() {
			if err := put(ctx, p); err != nil {
				return
			}
		}
	}
}
