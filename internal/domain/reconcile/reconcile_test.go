package reconcile

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/okian/crewmap/internal/adapters/mq/queue"
	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type roster struct {
	mu      sync.Mutex
	devices map[string]model.Member
}

func newRoster(members ...model.Member) *roster {
	r := &roster{devices: make(map[string]model.Member)}
	r.add(members...)
	return r
}

func (r *roster) add(members ...model.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range members {
		r.devices[m.DeviceID] = m
	}
}

func (r *roster) ByDeviceID(id string) (model.Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.devices[id]
	return m, ok
}

type recordingTrails struct {
	mu     sync.Mutex
	merged []model.TrailPoint
}

func (t *recordingTrails) NewPoint(memberID string, pos model.Position) model.TrailPoint {
	return model.TrailPoint{MemberID: memberID, Latitude: pos.Latitude, Longitude: pos.Longitude, Timestamp: pos.ObservedAt}
}

func (t *recordingTrails) MergeExternal(_ context.Context, p model.TrailPoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.merged = append(t.merged, p)
	return true
}

type collector struct {
	mu     sync.Mutex
	points []model.TrailPoint
}

func (c *collector) Persist(_ context.Context, p model.TrailPoint) {
	c.mu.Lock()
	c.points = append(c.points, p)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.points)
}

var t0 = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func pos(device string, lat float64, offset time.Duration) model.Position {
	return model.Position{DeviceID: device, Latitude: lat, Longitude: lat, ObservedAt: t0.Add(offset)}
}

func TestOnFeedBatch(t *testing.T) {
	Convey("Given a reconciler with one known member", t, func() {
		So(logger.Init(), ShouldBeNil)
		ctx := context.Background()
		m1 := model.Member{ID: "M1", DeviceID: "d1"}
		persisted := &collector{}
		r := New(newRoster(m1), &recordingTrails{}, WithPersister(persisted))

		Convey("A stale update is rejected", func() {
			r.OnFeedBatch(ctx, []model.Position{pos("d1", 1, time.Minute)})
			r.OnFeedBatch(ctx, []model.Position{pos("d1", 2, 0)})

			live, ok := r.Position("d1")
			So(ok, ShouldBeTrue)
			So(live.Latitude, ShouldEqual, 1.0)
			So(live.Longitude, ShouldEqual, 1.0)
			So(persisted.len(), ShouldEqual, 1)
		})

		Convey("Within one batch the newest fix wins", func() {
			r.OnFeedBatch(ctx, []model.Position{pos("d1", 3, 2*time.Minute), pos("d1", 1, 0), pos("d1", 2, time.Minute)})
			live, _ := r.Position("d1")
			So(live.Latitude, ShouldEqual, 3.0)
		})

		Convey("Equal timestamps take the later arrival without a new trail point", func() {
			r.OnFeedBatch(ctx, []model.Position{pos("d1", 1, 0)})
			r.OnFeedBatch(ctx, []model.Position{pos("d1", 5, 0)})
			live, _ := r.Position("d1")
			So(live.Latitude, ShouldEqual, 5.0)
			So(persisted.len(), ShouldEqual, 1)
		})

		Convey("Each advancing fix is persisted for the resolved member", func() {
			r.OnFeedBatch(ctx, []model.Position{pos("d1", 1, 0), pos("d1", 2, time.Minute)})
			So(persisted.len(), ShouldEqual, 2)
			So(persisted.points[0].MemberID, ShouldEqual, "M1")
		})

		Convey("Unknown devices are held, not rendered or persisted", func() {
			r.OnFeedBatch(ctx, []model.Position{pos("xyz", 7, 0)})
			_, ok := r.Position("xyz")
			So(ok, ShouldBeFalse)
			So(r.Unresolved(), ShouldContainKey, "xyz")
			So(r.Live(), ShouldBeEmpty)
			So(persisted.len(), ShouldEqual, 0)
		})
	})
}

func TestOnRosterChange(t *testing.T) {
	Convey("Given member M1 on device abc and a position for unknown device xyz", t, func() {
		So(logger.Init(), ShouldBeNil)
		ctx := context.Background()
		rs := newRoster(model.Member{ID: "M1", DeviceID: "abc"})
		persisted := &collector{}
		r := New(rs, &recordingTrails{}, WithPersister(persisted))

		r.OnFeedBatch(ctx, []model.Position{pos("xyz", 4, 0)})
		So(r.Live(), ShouldBeEmpty)

		Convey("When the roster gains M2 on xyz the position is promoted without new feed data", func() {
			rs.add(model.Member{ID: "M2", DeviceID: "xyz"})
			r.OnRosterChange(ctx, nil)

			live, ok := r.Position("xyz")
			So(ok, ShouldBeTrue)
			So(live.Latitude, ShouldEqual, 4.0)
			So(r.Unresolved(), ShouldBeEmpty)
			So(persisted.len(), ShouldEqual, 1)
			So(persisted.points[0].MemberID, ShouldEqual, "M2")
		})

		Convey("When the roster changes without the device it stays held", func() {
			rs.add(model.Member{ID: "M3", DeviceID: "other"})
			r.OnRosterChange(ctx, nil)
			So(r.Unresolved(), ShouldContainKey, "xyz")
		})

		Convey("A newer live value is not regressed by a promoted one", func() {
			rs.add(model.Member{ID: "M2", DeviceID: "xyz"})
			r.OnFeedBatch(ctx, []model.Position{pos("xyz", 9, time.Hour)})
			r.OnRosterChange(ctx, nil)
			live, _ := r.Position("xyz")
			So(live.Latitude, ShouldEqual, 9.0)
		})
	})
}

func TestUnresolvedIsBounded(t *testing.T) {
	Convey("Given a reconciler holding at most two unknown devices", t, func() {
		So(logger.Init(), ShouldBeNil)
		ctx := context.Background()
		r := New(newRoster(), &recordingTrails{}, WithUnresolvedLimit(2))

		r.OnFeedBatch(ctx, []model.Position{pos("a", 1, 0), pos("b", 1, 0)})
		r.OnFeedBatch(ctx, []model.Position{pos("a", 2, time.Minute)})
		r.OnFeedBatch(ctx, []model.Position{pos("c", 1, 0)})

		Convey("The least recently held device is evicted", func() {
			held := r.Unresolved()
			So(held, ShouldHaveLength, 2)
			So(held, ShouldContainKey, "a")
			So(held, ShouldContainKey, "c")
			So(held["a"].Latitude, ShouldEqual, 2.0)
		})

		Convey("An older fix does not replace a held one", func() {
			r.OnFeedBatch(ctx, []model.Position{pos("a", 3, 0)})
			So(r.Unresolved()["a"].Latitude, ShouldEqual, 2.0)
		})
	})
}

func TestChunkingIndependence(t *testing.T) {
	Convey("Given the same positions delivered in different chunkings", t, func() {
		So(logger.Init(), ShouldBeNil)
		ctx := context.Background()
		rng := rand.New(rand.NewSource(7))

		var stream []model.Position
		for i := 0; i < 200; i++ {
			dev := []string{"d1", "d2", "d3"}[rng.Intn(3)]
			stream = append(stream, pos(dev, float64(i), time.Duration(rng.Intn(50))*time.Second))
		}
		want := map[string]model.Position{}
		for _, p := range stream {
			if cur, ok := want[p.DeviceID]; !ok || !cur.NewerThan(p) {
				want[p.DeviceID] = p
			}
		}

		members := []model.Member{{ID: "1", DeviceID: "d1"}, {ID: "2", DeviceID: "d2"}, {ID: "3", DeviceID: "d3"}}
		for trial := 0; trial < 20; trial++ {
			r := New(newRoster(members...), &recordingTrails{})
			for i := 0; i < len(stream); {
				n := 1 + rng.Intn(17)
				if i+n > len(stream) {
					n = len(stream) - i
				}
				r.OnFeedBatch(ctx, stream[i:i+n])
				i += n
			}
			So(r.Live(), ShouldResemble, want)
		}
	})
}

func TestRunAppliesQueuedEvents(t *testing.T) {
	Convey("Given a reconciler consuming an event queue", t, func() {
		So(logger.Init(), ShouldBeNil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		rs := newRoster(model.Member{ID: "M1", DeviceID: "d1"})
		trails := &recordingTrails{}
		r := New(rs, trails)
		q := queue.NewInMemoryQueue[Event](queue.WithCapacity(8))

		done := make(chan struct{})
		go func() {
			r.Run(ctx, q)
			close(done)
		}()

		So(q.Put(ctx, FeedBatch{Positions: []model.Position{pos("d1", 1, 0), pos("d2", 2, 0)}}), ShouldBeNil)
		rs.add(model.Member{ID: "M2", DeviceID: "d2"})
		So(q.Put(ctx, RosterChange{}), ShouldBeNil)
		So(q.Put(ctx, ExternalPoint{Point: model.TrailPoint{ID: "ext", MemberID: "M2"}}), ShouldBeNil)
		So(q.Close(), ShouldBeNil)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after the queue closed")
		}

		So(r.Live(), ShouldHaveLength, 2)
		So(trails.merged, ShouldHaveLength, 1)
	})
}
