package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type item struct {
	id string
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue[item](WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, item{id: "a"}) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.id != "a" {
		t.Errorf("expected a, got %v", got.id)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue[item](WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, item{id: "1"}) || !q.Enqueue(ctx, item{id: "2"}) {
		t.Fatal("expected first two enqueues to succeed")
	}
	if q.Enqueue(ctx, item{id: "3"}) {
		t.Error("expected enqueue to fail when queue is full")
	}
}

func TestInMemoryQueue_PutWaitsForSpace(t *testing.T) {
	q := NewInMemoryQueue[item](WithCapacity(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Put(ctx, item{id: "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Put(ctx, item{id: "2"}) }()

	select {
	case err := <-done:
		t.Fatalf("expected Put to block on a full queue, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	out := q.Dequeue(ctx)
	if got := <-out; got.id != "1" {
		t.Fatalf("expected 1, got %s", got.id)
	}
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := <-out; got.id != "2" {
		t.Fatalf("expected 2, got %s", got.id)
	}
}

func TestInMemoryQueue_PutHonoursContext(t *testing.T) {
	q := NewInMemoryQueue[item](WithCapacity(1))
	_ = q.Put(context.Background(), item{id: "1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Put(ctx, item{id: "2"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestInMemoryQueue_PreservesOrder(t *testing.T) {
	q := NewInMemoryQueue[int](WithCapacity(100))
	ctx := context.Background()
	for i := range 100 {
		if err := q.Put(ctx, i); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	_ = q.Close()

	want := 0
	for got := range q.Dequeue(ctx) {
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
		want++
	}
	if want != 100 {
		t.Fatalf("expected 100 items, got %d", want)
	}
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue[int](WithCapacity(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := range 10 {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := range 50 {
				_ = q.Put(ctx, p*100+i)
			}
		}(p)
	}
	wg.Wait()

	if l := q.Len(ctx); l != 500 {
		t.Fatalf("expected 500 queued items, got %d", l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue[item](WithCapacity(10))
	ctx := context.Background()

	_ = q.Enqueue(ctx, item{id: "before"})
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed")
	}
	if q.Enqueue(ctx, item{id: "after"}) {
		t.Error("expected enqueue to fail after close")
	}
	if err := q.Put(ctx, item{id: "after"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	var got []string
	for it := range q.Dequeue(ctx) {
		got = append(got, it.id)
	}
	if len(got) != 1 || got[0] != "before" {
		t.Errorf("expected queued item to drain after close, got %v", got)
	}
}
