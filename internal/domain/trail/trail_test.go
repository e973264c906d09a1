package trail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/internal/adapters/store/memstore"
	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

// flakyStore fails inserts while fail is set.
type flakyStore struct {
	*memstore.Store
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyStore) InsertPoint(ctx context.Context, p model.TrailPoint) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("insert refused")
	}
	return f.Store.InsertPoint(ctx, p)
}

func at(h, m int) time.Time {
	return time.Date(2026, 5, 10, h, m, 0, 0, time.UTC)
}

func point(id, member string, ts time.Time) model.TrailPoint {
	return model.TrailPoint{
		ID: id, MemberID: member, CrewID: "c1",
		Latitude: 1, Longitude: 1, Timestamp: ts,
		DayBucket: model.DayBucket(ts, time.UTC),
	}
}

func TestLoadToday(t *testing.T) {
	Convey("Given stored points across two days", t, func() {
		So(logger.Init(), ShouldBeNil)
		ctx := context.Background()
		s := memstore.New()
		So(s.CreateCrew(ctx, model.Crew{ID: "c1", Name: "Hikers", InviteCode: "ABC234"}), ShouldBeNil)

		yesterday := at(10, 0).Add(-24 * time.Hour)
		So(s.InsertPoint(ctx, point("old", "m1", yesterday)), ShouldBeNil)
		So(s.InsertPoint(ctx, point("p2", "m1", at(9, 30))), ShouldBeNil)
		So(s.InsertPoint(ctx, point("p1", "m1", at(9, 0))), ShouldBeNil)
		So(s.InsertPoint(ctx, point("q1", "m2", at(9, 15))), ShouldBeNil)

		clock := model.NewFakeClock(at(12, 0))
		trails := New("c1", s, WithClock(clock), WithLocation(time.UTC))

		Convey("When today's trails are loaded", func() {
			got, err := trails.LoadToday(ctx)
			So(err, ShouldBeNil)

			Convey("Then yesterday's point is excluded and groups are ascending", func() {
				So(got, ShouldHaveLength, 2)
				So(got["m1"], ShouldHaveLength, 2)
				So(got["m1"][0].ID, ShouldEqual, "p1")
				So(got["m1"][1].ID, ShouldEqual, "p2")
				So(got["m2"], ShouldHaveLength, 1)
				So(trails.Len(), ShouldEqual, 3)
			})

			Convey("Then the returned map is a copy", func() {
				got["m1"][0].ID = "mutated"
				So(trails.Trail(ctx, "m1")[0].ID, ShouldEqual, "p1")
			})
		})
	})
}

func TestAppend(t *testing.T) {
	Convey("Given a loaded trail sync", t, func() {
		So(logger.Init(), ShouldBeNil)
		ctx := context.Background()
		fs := &flakyStore{Store: memstore.New()}
		So(fs.CreateCrew(ctx, model.Crew{ID: "c1", Name: "Hikers", InviteCode: "ABC234"}), ShouldBeNil)

		clock := model.NewFakeClock(at(12, 0))
		trails := New("c1", fs, WithClock(clock), WithLocation(time.UTC))
		_, err := trails.LoadToday(ctx)
		So(err, ShouldBeNil)

		Convey("NewPoint buckets by recording time, not fix time", func() {
			clock.Set(time.Date(2026, 5, 11, 0, 0, 5, 0, time.UTC))
			p := trails.NewPoint("m1", model.Position{DeviceID: "d1", Latitude: 3, Longitude: 4,
				ObservedAt: time.Date(2026, 5, 10, 23, 59, 58, 0, time.UTC)})
			So(p.DayBucket, ShouldEqual, "2026-05-11")
			So(p.CrewID, ShouldEqual, "c1")
			So(p.ID, ShouldNotBeEmpty)
			So(p.Timestamp.Day(), ShouldEqual, 10)
		})

		Convey("A successful append persists and extends the member trail", func() {
			p := trails.NewPoint("m1", model.Position{Latitude: 1, Longitude: 2, ObservedAt: at(11, 0)})
			So(trails.Append(ctx, p), ShouldBeNil)

			So(trails.Trail(ctx, "m1"), ShouldHaveLength, 1)
			stored, err := fs.PointsForDay(ctx, "c1", "2026-05-10")
			So(err, ShouldBeNil)
			So(stored, ShouldHaveLength, 1)

			Convey("Appending the same point again is a no-op", func() {
				So(trails.Append(ctx, p), ShouldBeNil)
				So(trails.Trail(ctx, "m1"), ShouldHaveLength, 1)
			})
		})

		Convey("A failed append returns ErrPersist and leaves memory untouched", func() {
			fs.setFail(true)
			p := trails.NewPoint("m1", model.Position{Latitude: 1, Longitude: 2, ObservedAt: at(11, 0)})
			err := trails.Append(ctx, p)
			So(errors.Is(err, ErrPersist), ShouldBeTrue)
			So(trails.Trail(ctx, "m1"), ShouldBeEmpty)

			Convey("The same point can be retried by the caller", func() {
				fs.setFail(false)
				So(trails.Append(ctx, p), ShouldBeNil)
				So(trails.Trail(ctx, "m1"), ShouldHaveLength, 1)
			})
		})

		Convey("Out-of-order points are inserted in timestamp order", func() {
			for _, ts := range []time.Time{at(11, 0), at(10, 0), at(11, 30), at(10, 30)} {
				So(trails.Append(ctx, trails.NewPoint("m1", model.Position{ObservedAt: ts})), ShouldBeNil)
			}
			trail := trails.Trail(ctx, "m1")
			So(trail, ShouldHaveLength, 4)
			for i := 1; i < len(trail); i++ {
				So(trail[i-1].Timestamp.After(trail[i].Timestamp), ShouldBeFalse)
			}
		})

		Convey("Equal timestamps keep arrival order", func() {
			first := trails.NewPoint("m1", model.Position{Latitude: 1, ObservedAt: at(11, 0)})
			second := trails.NewPoint("m1", model.Position{Latitude: 2, ObservedAt: at(11, 0)})
			So(trails.Append(ctx, first), ShouldBeNil)
			So(trails.Append(ctx, second), ShouldBeNil)
			trail := trails.Trail(ctx, "m1")
			So(trail[0].ID, ShouldEqual, first.ID)
			So(trail[1].ID, ShouldEqual, second.ID)
		})

		Convey("After midnight the trail starts empty", func() {
			So(trails.Append(ctx, trails.NewPoint("m1", model.Position{ObservedAt: at(11, 0)})), ShouldBeNil)
			clock.Set(time.Date(2026, 5, 11, 0, 1, 0, 0, time.UTC))

			So(trails.Trail(ctx, "m1"), ShouldBeEmpty)
			So(trails.Today(), ShouldEqual, "2026-05-11")

			p := trails.NewPoint("m1", model.Position{ObservedAt: clock.Now()})
			So(trails.Append(ctx, p), ShouldBeNil)
			So(trails.Trail(ctx, "m1"), ShouldHaveLength, 1)

			loaded, err := trails.LoadToday(ctx)
			So(err, ShouldBeNil)
			So(loaded["m1"], ShouldHaveLength, 1)
		})
	})
}

func TestMergeExternal(t *testing.T) {
	Convey("Given a trail sync subscribed to trail inserts", t, func() {
		So(logger.Init(), ShouldBeNil)
		ctx := context.Background()
		s := memstore.New()
		So(s.CreateCrew(ctx, model.Crew{ID: "c1", Name: "Hikers", InviteCode: "ABC234"}), ShouldBeNil)

		clock := model.NewFakeClock(at(12, 0))
		trails := New("c1", s, WithClock(clock), WithLocation(time.UTC))
		_, err := trails.LoadToday(ctx)
		So(err, ShouldBeNil)

		var merged []bool
		sub, err := trails.OnNewPoint(ctx, s, func(p model.TrailPoint) {
			merged = append(merged, trails.MergeExternal(ctx, p))
		})
		So(err, ShouldBeNil)
		defer func() { _ = sub.Close() }()

		Convey("A point inserted by another client is merged", func() {
			So(s.InsertPoint(ctx, point("ext", "m2", at(11, 0))), ShouldBeNil)
			So(merged, ShouldResemble, []bool{true})
			So(trails.Trail(ctx, "m2"), ShouldHaveLength, 1)
		})

		Convey("Our own append is not applied twice by its notification", func() {
			p := trails.NewPoint("m1", model.Position{ObservedAt: at(11, 0)})
			So(trails.Append(ctx, p), ShouldBeNil)
			So(merged, ShouldResemble, []bool{false})
			So(trails.Trail(ctx, "m1"), ShouldHaveLength, 1)
		})

		Convey("Applied tracks appended and merged ids until rollover", func() {
			p := trails.NewPoint("m1", model.Position{ObservedAt: at(11, 0)})
			So(trails.Applied(ctx, p.ID), ShouldBeFalse)
			So(trails.Append(ctx, p), ShouldBeNil)
			So(trails.Applied(ctx, p.ID), ShouldBeTrue)

			So(s.InsertPoint(ctx, point("ext", "m2", at(11, 5))), ShouldBeNil)
			So(trails.Applied(ctx, "ext"), ShouldBeTrue)
			So(trails.Applied(ctx, ""), ShouldBeFalse)

			clock.Set(at(12, 0).Add(24 * time.Hour))
			So(trails.Trail(ctx, "m1"), ShouldBeEmpty)
			So(trails.Applied(ctx, p.ID), ShouldBeFalse)
		})

		Convey("Points for another crew or day are ignored", func() {
			other := point("x", "m3", at(11, 0))
			other.CrewID = "c2"
			So(trails.MergeExternal(ctx, other), ShouldBeFalse)

			stale := point("y", "m3", at(11, 0).Add(-24*time.Hour))
			So(trails.MergeExternal(ctx, stale), ShouldBeFalse)
			So(trails.Trail(ctx, "m3"), ShouldBeEmpty)
		})

		Convey("Non-insert changes and malformed rows are skipped", func() {
			change, err := store.NewChange(store.TableTrails, store.OpDelete, "c1", point("d", "m1", at(11, 0)))
			So(err, ShouldBeNil)
			var calls int
			hub := store.NewHub()
			hsub, err := trails.OnNewPoint(ctx, hub, func(model.TrailPoint) { calls++ })
			So(err, ShouldBeNil)
			defer func() { _ = hsub.Close() }()

			hub.Publish(change)
			hub.Publish(store.Change{Table: store.TableTrails, Op: store.OpInsert, CrewID: "c1", Row: []byte(`{`)})
			So(calls, ShouldEqual, 0)
		})
	})
}
