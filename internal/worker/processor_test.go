package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"cinemitr/internal/config"
	"cinemitr/internal/queue"
)

func newTestProcessor(t *testing.T) (*Processor, *queue.JobQueue) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(client, 30*time.Second)
	cfg := config.Config{MaxAttempts: 5, WorkerPollInterval: 10 * time.Millisecond}
	return NewProcessor(cfg, q, nil), q
}

func TestRetryBackoffStopsOnCancel(t *testing.T) {
	p, q := newTestProcessor(t)
	p.RegisterHandler(queue.KindExport, func(context.Context, string) error {
		return errors.New("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job := queue.Job{Kind: queue.KindExport, ID: "e1"}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// Cancel mid-backoff; the retry wait must not run out its full duration.
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	p.process(ctx, job)
	// The first retry backoff waits at least 100ms when uninterrupted.
	if elapsed := time.Since(start); elapsed >= 100*time.Millisecond {
		t.Fatalf("backoff ignored cancellation, took %s", elapsed)
	}

	depth, err := q.ReadyDepth(context.Background())
	if err != nil || depth != 1 {
		t.Fatalf("depth=%d err=%v, failed job must be requeued before cancel", depth, err)
	}
}

func TestFailedJobIsRequeuedUnderAttemptCap(t *testing.T) {
	p, q := newTestProcessor(t)
	p.RegisterHandler(queue.KindThumbnail, func(context.Context, string) error {
		return errors.New("boom")
	})

	ctx := context.Background()
	job := queue.Job{Kind: queue.KindThumbnail, ID: "t1"}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	p.process(ctx, job)

	depth, err := q.ReadyDepth(context.Background())
	if err != nil || depth != 1 {
		t.Fatalf("depth=%d err=%v, want requeued job", depth, err)
	}
	got, err := q.Attempts(ctx, job)
	if err != nil || got != 1 {
		t.Fatalf("attempts=%d err=%v, want 1", got, err)
	}
}
