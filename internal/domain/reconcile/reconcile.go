// Package reconcile merges feed positions with the crew roster into the
// live position map and hands newly advanced positions to trail persistence.
package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/crewmap/internal/adapters/mq/queue"
	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/pkg/logger"
	"github.com/okian/crewmap/pkg/metrics"
)

const defaultUnresolvedLimit = 256

// Resolver maps a tracking device to a member. It must answer from the
// latest roster at call time; directory.Cache satisfies it.
type Resolver interface {
	ByDeviceID(deviceID string) (model.Member, bool)
}

// Trails builds and merges trail points; trail.Sync satisfies it.
type Trails interface {
	NewPoint(memberID string, pos model.Position) model.TrailPoint
	MergeExternal(ctx context.Context, point model.TrailPoint) bool
}

// Persister stores a trail point. Implementations must not block on the
// reconciler and report their own failures.
type Persister interface {
	Persist(ctx context.Context, point model.TrailPoint)
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, point model.TrailPoint)

// Persist calls f.
func (f PersisterFunc) Persist(ctx context.Context, point model.TrailPoint) { f(ctx, point) }

type unresolvedEntry struct {
	pos model.Position
	seq uint64
}

// Reconciler owns the live position map. One mutex is held across each
// whole update, so a feed batch and a roster change never interleave.
type Reconciler struct {
	resolver  Resolver
	trails    Trails
	persister Persister
	limit     int
	logger    logger.Logger

	mu         sync.Mutex
	live       map[string]model.Position
	unresolved map[string]unresolvedEntry
	seq        uint64
}

// New returns a Reconciler resolving devices with resolver and recording
// trail points through trails.
func New(resolver Resolver, trails Trails, opts ...Option) *Reconciler {
	r := &Reconciler{
		resolver:   resolver,
		trails:     trails,
		limit:      defaultUnresolvedLimit,
		logger:     logger.Get().Named("reconcile"),
		live:       make(map[string]model.Position),
		unresolved: make(map[string]unresolvedEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.persister == nil {
		r.persister = PersisterFunc(func(context.Context, model.TrailPoint) {})
	}
	return r
}

// OnFeedBatch merges one batch of feed positions. Positions of unknown
// devices are held aside; positions older than the live value are dropped.
// Every position that advances the live map is persisted as a trail point
// after the map is updated.
func (r *Reconciler) OnFeedBatch(ctx context.Context, positions []model.Position) {
	start := time.Now()
	r.mu.Lock()
	var pending []model.TrailPoint
	for _, pos := range positions {
		member, ok := r.resolver.ByDeviceID(pos.DeviceID)
		if !ok {
			r.holdLocked(pos)
			continue
		}
		if p, advanced := r.applyLocked(member, pos); advanced {
			pending = append(pending, p)
		}
	}
	r.publishGaugesLocked()
	r.mu.Unlock()
	metrics.RecordReconcileLatency(float64(time.Since(start).Milliseconds()))

	r.persist(ctx, pending)
}

// OnRosterChange re-resolves held positions against the current roster so
// newly joined members appear without waiting for another feed push.
func (r *Reconciler) OnRosterChange(ctx context.Context, _ []model.Member) {
	r.mu.Lock()
	var pending []model.TrailPoint
	promoted := 0
	for _, entry := range r.orderedUnresolvedLocked() {
		member, ok := r.resolver.ByDeviceID(entry.pos.DeviceID)
		if !ok {
			continue
		}
		delete(r.unresolved, entry.pos.DeviceID)
		promoted++
		metrics.RecordPromotedPosition()
		if p, advanced := r.applyLocked(member, entry.pos); advanced {
			pending = append(pending, p)
		}
	}
	r.publishGaugesLocked()
	r.mu.Unlock()

	if promoted > 0 {
		r.logger.Info(ctx, "resolved held positions after roster change", logger.Int("promoted", promoted))
	}
	r.persist(ctx, pending)
}

// OnExternalTrailPoint merges a point another client persisted.
func (r *Reconciler) OnExternalTrailPoint(ctx context.Context, point model.TrailPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trails.MergeExternal(ctx, point)
}

// applyLocked updates the live map. Equal timestamps replace the live value
// in arrival order but only a strictly newer fix yields a trail point.
func (r *Reconciler) applyLocked(member model.Member, pos model.Position) (model.TrailPoint, bool) {
	delete(r.unresolved, pos.DeviceID)
	cur, seen := r.live[pos.DeviceID]
	if seen && cur.NewerThan(pos) {
		metrics.RecordStalePosition()
		return model.TrailPoint{}, false
	}
	r.live[pos.DeviceID] = pos
	if seen && !pos.NewerThan(cur) {
		return model.TrailPoint{}, false
	}
	return r.trails.NewPoint(member.ID, pos), true
}

// holdLocked keeps the newest position per unknown device, evicting the
// least recently held device beyond the limit.
func (r *Reconciler) holdLocked(pos model.Position) {
	if cur, ok := r.unresolved[pos.DeviceID]; ok && cur.pos.NewerThan(pos) {
		return
	}
	r.seq++
	r.unresolved[pos.DeviceID] = unresolvedEntry{pos: pos, seq: r.seq}
	for len(r.unresolved) > r.limit {
		var (
			oldest string
			lowest uint64
		)
		for id, e := range r.unresolved {
			if oldest == "" || e.seq < lowest {
				oldest, lowest = id, e.seq
			}
		}
		delete(r.unresolved, oldest)
	}
}

func (r *Reconciler) orderedUnresolvedLocked() []unresolvedEntry {
	out := make([]unresolvedEntry, 0, len(r.unresolved))
	for _, e := range r.unresolved {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Reconciler) publishGaugesLocked() {
	metrics.UpdateLiveDevices(len(r.live))
	metrics.UpdateUnresolvedPositions(len(r.unresolved))
}

func (r *Reconciler) persist(ctx context.Context, points []model.TrailPoint) {
	for _, p := range points {
		r.persister.Persist(ctx, p)
	}
}

// Live returns a copy of the live map keyed by device id.
func (r *Reconciler) Live() map[string]model.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.Position, len(r.live))
	for k, v := range r.live {
		out[k] = v
	}
	return out
}

// Position returns the live position of deviceID.
func (r *Reconciler) Position(deviceID string) (model.Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.live[deviceID]
	return p, ok
}

// Unresolved returns a copy of the held positions keyed by device id.
func (r *Reconciler) Unresolved() map[string]model.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.Position, len(r.unresolved))
	for k, e := range r.unresolved {
		out[k] = e.pos
	}
	return out
}

// Apply dispatches one event.
func (r *Reconciler) Apply(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case FeedBatch:
		r.OnFeedBatch(ctx, e.Positions)
	case RosterChange:
		r.OnRosterChange(ctx, e.Members)
	case ExternalPoint:
		r.OnExternalTrailPoint(ctx, e.Point)
	default:
		r.logger.Warn(ctx, "ignoring unknown event", logger.Any("event", ev))
	}
}

// Run applies events from q one at a time until q is closed and drained
// or ctx is done.
func (r *Reconciler) Run(ctx context.Context, q queue.Queue[Event]) {
	for ev := range q.Dequeue(ctx) {
		r.Apply(ctx, ev)
	}
}
