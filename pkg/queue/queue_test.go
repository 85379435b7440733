package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/billowhq/billow/pkg/errorsx"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := New(rdb, Config{
		Stream:      "test:tasks",
		Group:       "workers",
		Consumer:    "w1",
		MaxAttempts: 3,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  50 * time.Millisecond,
		Block:       50 * time.Millisecond,
	})
	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	return q, mr
}

func consumeUntil(t *testing.T, q *Queue, handler Handler, done <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go q.Consume(ctx, handler)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("timed out waiting for handler")
	}
	cancel()
}

func TestConsumeDeliversTask(t *testing.T) {
	q, _ := newTestQueue(t)
	if err := q.Enqueue(context.Background(), Task{RecordID: "rec-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := make(chan struct{})
	var got atomic.Value
	consumeUntil(t, q, func(ctx context.Context, task Task) error {
		got.Store(task)
		close(done)
		return nil
	}, done)
	task := got.Load().(Task)
	if task.RecordID != "rec-1" || task.Attempt != 1 {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestTransientErrorRetriesUpToCap(t *testing.T) {
	q, _ := newTestQueue(t)
	if err := q.Enqueue(context.Background(), Task{RecordID: "rec-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var calls atomic.Int32
	done := make(chan struct{})
	consumeUntil(t, q, func(ctx context.Context, task Task) error {
		n := calls.Add(1)
		if n >= 3 {
			close(done)
		}
		return errorsx.Wrap(errors.New("network down"), errorsx.ReasonTransportSend)
	}, done)
	// wait a moment to catch any delivery past the cap
	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", n)
	}
}

func TestTerminalErrorIsDiscarded(t *testing.T) {
	q, _ := newTestQueue(t)
	if err := q.Enqueue(context.Background(), Task{RecordID: "rec-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var calls atomic.Int32
	done := make(chan struct{})
	consumeUntil(t, q, func(ctx context.Context, task Task) error {
		calls.Add(1)
		close(done)
		return errorsx.Wrap(errors.New("row vanished"), errorsx.ReasonRecordNotFound)
	}, done)
	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}
