package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/crewmap/internal/adapters/mq/queue"
	worker "github.com/okian/crewmap/internal/adapters/mq/worker"
	logging "github.com/okian/crewmap/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type recorder struct {
	mu   sync.Mutex
	jobs []string
	fail map[string]error
	seen chan string
}

func newRecorder() *recorder {
	return &recorder{fail: make(map[string]error), seen: make(chan string, 100)}
}

func (r *recorder) Handle(_ context.Context, job string) error {
	r.mu.Lock()
	err := r.fail[job]
	if err == nil {
		r.jobs = append(r.jobs, job)
	}
	r.mu.Unlock()
	r.seen <- job
	return err
}

func (r *recorder) handled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.jobs...)
}

func waitFor(ch <-chan string, n int) bool {
	deadline := time.After(2 * time.Second)
	for range n {
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
	return true
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker reading from a queue", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue[string](queue.WithCapacity(10))
		rec := newRecorder()
		w := worker.NewInMemoryWorker[string](q, rec, worker.WithName("test-worker"))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When a job is queued", func() {
			convey.So(q.Put(ctx, "p1"), convey.ShouldBeNil)

			convey.Convey("Then the handler processes it", func() {
				convey.So(waitFor(rec.seen, 1), convey.ShouldBeTrue)
				convey.So(rec.handled(), convey.ShouldResemble, []string{"p1"})
			})
		})

		convey.Convey("When a job fails", func() {
			rec.fail["bad"] = errors.New("insert failed")
			convey.So(q.Put(ctx, "bad"), convey.ShouldBeNil)
			convey.So(q.Put(ctx, "good"), convey.ShouldBeNil)

			convey.Convey("Then the worker keeps going", func() {
				convey.So(waitFor(rec.seen, 2), convey.ShouldBeTrue)
				convey.So(rec.handled(), convey.ShouldResemble, []string{"good"})
			})
		})

		convey.Convey("When the worker is shut down", func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			err := w.Shutdown(sctx)

			convey.Convey("Then Run returns", func() {
				convey.So(err, convey.ShouldBeNil)
				_, open := <-w.Done()
				convey.So(open, convey.ShouldBeFalse)
			})
		})
	})
}

func TestHandlerFunc(t *testing.T) {
	convey.Convey("Given a HandlerFunc", t, func() {
		called := ""
		h := worker.HandlerFunc[string](func(_ context.Context, job string) error {
			called = job
			return nil
		})
		convey.So(h.Handle(context.Background(), "x"), convey.ShouldBeNil)
		convey.So(called, convey.ShouldEqual, "x")
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of workers", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue[string](queue.WithCapacity(100))
		rec := newRecorder()
		pool := worker.NewPool[string](3, q, rec)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.Convey("When jobs are submitted", func() {
			for _, job := range []string{"a", "b", "c", "d", "e"} {
				convey.So(pool.Submit(ctx, job), convey.ShouldBeNil)
			}

			convey.Convey("Then every job is handled exactly once", func() {
				convey.So(waitFor(rec.seen, 5), convey.ShouldBeTrue)
				convey.So(rec.handled(), convey.ShouldHaveLength, 5)
			})
		})

		convey.Convey("When the pool is shut down with jobs queued", func() {
			for _, job := range []string{"a", "b", "c"} {
				convey.So(pool.Submit(ctx, job), convey.ShouldBeNil)
			}
			err := pool.Shutdown(context.Background())

			convey.Convey("Then queued jobs are drained first", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rec.handled(), convey.ShouldHaveLength, 3)
			})

			convey.Convey("Then further submissions are rejected", func() {
				convey.So(errors.Is(pool.Submit(ctx, "late"), queue.ErrClosed), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a job is offered without waiting", func() {
			convey.So(pool.TrySubmit(ctx, "now"), convey.ShouldBeNil)
			convey.So(waitFor(rec.seen, 1), convey.ShouldBeTrue)
		})

		convey.Convey("When created with a non-positive worker count", func() {
			p := worker.NewPool[string](0, queue.NewInMemoryQueue[string](), rec)
			convey.So(p, convey.ShouldNotBeNil)
		})
	})
}

func TestPoolTrySubmitNeverWaits(t *testing.T) {
	convey.Convey("Given a pool whose single worker is busy and whose queue is full", t, func() {
		_ = logging.Init()

		release := make(chan struct{})
		started := make(chan string, 1)
		busy := worker.HandlerFunc[string](func(_ context.Context, job string) error {
			started <- job
			<-release
			return nil
		})
		q := queue.NewInMemoryQueue[string](queue.WithCapacity(1))
		pool := worker.NewPool[string](1, q, busy)
		pool.Start(context.Background())

		convey.So(pool.TrySubmit(context.Background(), "first"), convey.ShouldBeNil)
		convey.So(waitFor(started, 1), convey.ShouldBeTrue)
		convey.So(pool.TrySubmit(context.Background(), "second"), convey.ShouldBeNil)

		convey.Convey("Then another job is refused with ErrFull", func() {
			convey.So(errors.Is(pool.TrySubmit(context.Background(), "third"), queue.ErrFull), convey.ShouldBeTrue)
		})

		convey.Convey("Then after shutdown jobs are refused with ErrClosed", func() {
			close(release)
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(errors.Is(pool.TrySubmit(context.Background(), "late"), queue.ErrClosed), convey.ShouldBeTrue)
		})

		convey.Reset(func() {
			select {
			case <-release:
			default:
				close(release)
			}
		})
	})
}
