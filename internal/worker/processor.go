package worker

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"cinemitr/internal/config"
	"cinemitr/internal/queue"
	"cinemitr/internal/store"
	"cinemitr/internal/telemetry"
)

// workerActor is the audit principal for background mutations.
const workerActor = "worker"

// Handler executes one job of a given kind.
type Handler func(ctx context.Context, id string) error

// Processor drives the worker execution loop.
type Processor struct {
	cfg      config.Config
	queue    *queue.JobQueue
	store    *store.Store
	handlers map[string]Handler
}

func NewProcessor(cfg config.Config, q *queue.JobQueue, st *store.Store) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler binds a handler to a job kind.
func (p *Processor) RegisterHandler(kind string, handler Handler) {
	if kind == "" || handler == nil {
		return
	}
	p.handlers[kind] = handler
}

// Run polls the queue until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
			log.Printf("reclaimed %d expired leases", len(reclaimed))
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		job, err := p.queue.DequeueWithLease(ctx)
		if err != nil || job.ID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		telemetry.InFlightGauge.Inc()
		p.process(ctx, job)
		telemetry.InFlightGauge.Dec()
	}
}

func (p *Processor) process(ctx context.Context, job queue.Job) {
	err := p.runJob(ctx, job)
	if err == nil {
		_ = p.queue.Ack(ctx, job)
		if job.Kind == queue.KindExport {
			telemetry.ExportsCompleted.Inc()
		}
		return
	}

	log.Printf("job %s/%s failed: %v", job.Kind, job.ID, err)
	attempts, _ := p.queue.Attempts(ctx, job)
	if attempts+1 < p.cfg.MaxAttempts {
		n, retryErr := p.queue.Retry(ctx, job)
		if retryErr != nil {
			log.Printf("retry %s/%s: %v", job.Kind, job.ID, retryErr)
			return
		}
		// Back off before the next poll so a hot failure does not spin.
		select {
		case <-ctx.Done():
		case <-time.After(backoffWithJitter(200*time.Millisecond, 5*time.Second, n)):
		}
		return
	}

	_ = p.queue.DLQPush(ctx, job)
	if job.Kind == queue.KindExport {
		if _, failErr := p.store.FailExport(ctx, job.ID, err.Error(), workerActor); failErr != nil {
			log.Printf("mark export %s failed: %v", job.ID, failErr)
		}
		telemetry.ExportsFailed.Inc()
	}
}

func (p *Processor) runJob(ctx context.Context, job queue.Job) error {
	handler, ok := p.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("no handler registered for kind %q", job.Kind)
	}
	return handler(ctx, job.ID)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
