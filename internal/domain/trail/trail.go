// Package trail keeps today's trail points per member in step with the
// store: it loads the current day bucket, persists points recorded
// locally, and merges points inserted by other clients.
package trail

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/internal/domain/dedupe"
	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/pkg/logger"
	"github.com/okian/crewmap/pkg/metrics"
)

// Sync owns the in-memory trail buckets of one crew.
type Sync struct {
	crewID  string
	store   store.Trails
	deduper dedupe.Deduper
	clock   model.Clock
	loc     *time.Location
	logger  logger.Logger

	mu     sync.Mutex
	day    string
	points map[string][]model.TrailPoint
	total  int
}

// New returns a Sync for crewID backed by trails. Call LoadToday before use.
func New(crewID string, trails store.Trails, opts ...Option) *Sync {
	s := &Sync{
		crewID: crewID,
		store:  trails,
		clock:  model.SystemClock{},
		loc:    time.Local,
		logger: logger.Get().Named("trail"),
		points: make(map[string][]model.TrailPoint),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.deduper == nil {
		s.deduper = dedupe.NewInMemoryDeduper()
	}
	s.day = s.bucket()
	return s
}

func (s *Sync) bucket() string {
	return model.DayBucket(s.clock.Now(), s.loc)
}

// Today returns the current day bucket.
func (s *Sync) Today() string {
	return s.bucket()
}

// rolloverLocked starts an empty trail set when the day bucket has moved.
func (s *Sync) rolloverLocked(ctx context.Context) {
	day := s.bucket()
	if day == s.day {
		return
	}
	s.logger.Info(ctx, "day rollover, starting fresh trails",
		logger.String("from", s.day), logger.String("to", day))
	s.day = day
	s.points = make(map[string][]model.TrailPoint)
	s.total = 0
	s.deduper.Reset(ctx)
	metrics.UpdateTrailDedupeSize(0)
	metrics.RecordTrailRollover()
	metrics.UpdateTrailPoints(0)
}

// LoadToday replaces the in-memory trails with the store's points for the
// current day bucket, grouped by member in ascending timestamp order.
func (s *Sync) LoadToday(ctx context.Context) (map[string][]model.TrailPoint, error) {
	day := s.bucket()
	loaded, err := s.store.PointsForDay(ctx, s.crewID, day)
	if err != nil {
		metrics.RecordErrorByComponent("trail", "load")
		return nil, fmt.Errorf("load trails for %s: %w", day, err)
	}

	grouped := make(map[string][]model.TrailPoint)
	for _, p := range loaded {
		grouped[p.MemberID] = append(grouped[p.MemberID], p)
	}
	for _, pts := range grouped {
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.day = day
	s.points = grouped
	s.total = len(loaded)
	s.deduper.Reset(ctx)
	for _, p := range loaded {
		s.deduper.SeenAndRecord(ctx, p.ID)
	}
	metrics.UpdateTrailPoints(s.total)
	metrics.UpdateTrailDedupeSize(s.deduper.Size())
	s.logger.Info(ctx, "trails loaded", logger.String("day", day),
		logger.Int("members", len(grouped)), logger.Int("points", len(loaded)))
	return copyPoints(grouped), nil
}

// NewPoint builds the trail point recording pos for memberID. The day
// bucket is the recording instant's date, not the date of the fix.
func (s *Sync) NewPoint(memberID string, pos model.Position) model.TrailPoint {
	ts := pos.ObservedAt
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	return model.TrailPoint{
		ID:        uuid.NewString(),
		MemberID:  memberID,
		CrewID:    s.crewID,
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Timestamp: ts,
		DayBucket: s.bucket(),
	}
}

// Append persists point and, on success, adds it to the member's trail.
// A failed insert leaves memory untouched and returns ErrPersist; the
// point is not retried. A point already applied is a no-op.
func (s *Sync) Append(ctx context.Context, point model.TrailPoint) error {
	if point.ID == "" {
		point.ID = uuid.NewString()
	}
	if point.DayBucket == "" {
		point.DayBucket = s.bucket()
	}

	// The store's own insert notification may arrive before InsertPoint
	// returns, so the id is claimed first.
	if s.deduper.SeenAndRecord(ctx, point.ID) {
		metrics.RecordTrailDuplicate()
		return nil
	}
	metrics.UpdateTrailDedupeSize(s.deduper.Size())

	start := time.Now()
	err := s.store.InsertPoint(ctx, point)
	metrics.RecordTrailPersistLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.deduper.Unrecord(ctx, point.ID)
		metrics.UpdateTrailDedupeSize(s.deduper.Size())
		metrics.RecordTrailPersistError()
		metrics.RecordErrorByComponent("trail", "persist")
		return fmt.Errorf("%w: member %s point %s: %v", ErrPersist, point.MemberID, point.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(ctx)
	if point.DayBucket == s.day {
		s.insertLocked(point)
	}
	metrics.RecordTrailAppend()
	return nil
}

// MergeExternal adds a point written by another client. It reports whether
// the point was applied; points for another crew or day, and points
// already applied, are ignored.
func (s *Sync) MergeExternal(ctx context.Context, point model.TrailPoint) bool {
	if point.CrewID != s.crewID || point.MemberID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(ctx)
	if point.DayBucket != s.day {
		return false
	}
	if point.ID != "" && s.deduper.SeenAndRecord(ctx, point.ID) {
		metrics.RecordTrailDuplicate()
		return false
	}
	s.insertLocked(point)
	metrics.UpdateTrailDedupeSize(s.deduper.Size())
	metrics.RecordTrailExternalPoint()
	return true
}

// Applied reports whether the point with id is already held for today,
// either appended here or merged from another client.
func (s *Sync) Applied(ctx context.Context, id string) bool {
	return id != "" && s.deduper.Contains(ctx, id)
}

// insertLocked places point after every point with an equal or earlier
// timestamp, so arrival order breaks ties.
func (s *Sync) insertLocked(point model.TrailPoint) {
	pts := s.points[point.MemberID]
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Timestamp.After(point.Timestamp) })
	pts = append(pts, model.TrailPoint{})
	copy(pts[i+1:], pts[i:])
	pts[i] = point
	s.points[point.MemberID] = pts
	s.total++
	metrics.UpdateTrailPoints(s.total)
}

// OnNewPoint subscribes to trail inserts for the crew and passes each
// decoded point to fn. Malformed rows are logged and skipped.
func (s *Sync) OnNewPoint(ctx context.Context, notifier store.Notifier, fn func(model.TrailPoint)) (store.Subscription, error) {
	sub, err := notifier.Subscribe(ctx, store.TableTrails, s.crewID, func(ch store.Change) {
		metrics.RecordChangeNotification(string(ch.Table), string(ch.Op))
		if ch.Op != store.OpInsert {
			return
		}
		point, err := ch.TrailPoint()
		if err != nil {
			s.logger.Warn(ctx, "dropping trail notification", logger.Error(err))
			return
		}
		fn(point)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to trail inserts: %w", err)
	}
	return sub, nil
}

// Trail returns today's points for memberID in timestamp order.
func (s *Sync) Trail(ctx context.Context, memberID string) []model.TrailPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(ctx)
	return append([]model.TrailPoint(nil), s.points[memberID]...)
}

// Snapshot returns today's points for every member.
func (s *Sync) Snapshot(ctx context.Context) map[string][]model.TrailPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(ctx)
	return copyPoints(s.points)
}

// Len returns the number of points held for today.
func (s *Sync) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func copyPoints(in map[string][]model.TrailPoint) map[string][]model.TrailPoint {
	out := make(map[string][]model.TrailPoint, len(in))
	for k, v := range in {
		out[k] = append([]model.TrailPoint(nil), v...)
	}
	return out
}
