package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/okian/crewmap/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then it should be empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording point ids", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the id is new", func() {
				seen := d.SeenAndRecord(ctx, "point-1")

				Convey("Then it should return false and record the id", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
					So(d.Contains(ctx, "point-1"), ShouldBeTrue)
				})
			})

			Convey("And the id was already seen", func() {
				d.SeenAndRecord(ctx, "point-1")
				seen := d.SeenAndRecord(ctx, "point-1")

				Convey("Then it should return true", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When an id is unrecorded after a failed write", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "point-1")
			d.Unrecord(ctx, "point-1")

			Convey("Then it can be recorded again", func() {
				So(d.Contains(ctx, "point-1"), ShouldBeFalse)
				So(d.SeenAndRecord(ctx, "point-1"), ShouldBeFalse)
			})

			Convey("Then unrecording an unknown id is harmless", func() {
				d.Unrecord(ctx, "missing")
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the deduper is bounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 1; i <= 4; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("point-%d", i))
			}

			Convey("Then the oldest id is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.Contains(ctx, "point-1"), ShouldBeFalse)
				So(d.Contains(ctx, "point-4"), ShouldBeTrue)
			})
		})

		Convey("When the deduper is unbounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			for i := range 1000 {
				d.SeenAndRecord(ctx, fmt.Sprintf("point-%d", i))
			}
			So(d.Size(), ShouldEqual, 1000)
		})

		Convey("When the deduper is reset at day rollover", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "point-1")
			d.Reset(ctx)

			Convey("Then it forgets everything", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "point-1"), ShouldBeFalse)
			})
		})

		Convey("When many goroutines record the same id", func() {
			d := dedupe.NewInMemoryDeduper()
			var wg sync.WaitGroup
			var mu sync.Mutex
			fresh := 0
			for range 50 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if !d.SeenAndRecord(ctx, "shared") {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one caller records it", func() {
				So(fresh, ShouldEqual, 1)
			})
		})
	})
}
