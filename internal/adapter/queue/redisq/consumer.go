package redisq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/dex-order-engine/internal/adapter/observability"
	"github.com/fairyhunter13/dex-order-engine/internal/domain"
	obsctx "github.com/fairyhunter13/dex-order-engine/internal/observability"
)

// DispatchBucket is the limiter key shared by all workers; it enforces the
// pool-wide throughput cap.
const DispatchBucket = "queue:dispatch"

const moveBatch = 128

// Processor runs one reserved job to its terminal disposition. The processor
// owns the Complete/Fail/Discard call for the job it is handed.
type Processor interface {
	Process(ctx context.Context, job domain.Job)
}

// Consumer pumps reserved jobs into a fixed worker pool. The pool size is
// the concurrency cap; the limiter shapes dispatch throughput on top of it.
type Consumer struct {
	queue     *Queue
	limiter   Limiter
	processor Processor
	workers   int
	moveEvery time.Duration

	shutdownOnce sync.Once
	shutdown     chan struct{}
	wg           sync.WaitGroup
}

// NewConsumer builds a Consumer with the given pool size.
func NewConsumer(queue *Queue, limiter Limiter, processor Processor, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		queue:     queue,
		limiter:   limiter,
		processor: processor,
		workers:   workers,
		moveEvery: 250 * time.Millisecond,
		shutdown:  make(chan struct{}),
	}
}

// Start requeues orphaned jobs, launches the retry mover and the worker
// pool, then blocks until ctx is cancelled. Call Close afterwards to wait
// for in-flight jobs to drain.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("starting queue consumer", slog.Int("workers", c.workers))

	if n, err := c.queue.RequeueOrphans(ctx); err != nil {
		slog.Warn("requeue orphans failed", slog.Any("error", err))
	} else if n > 0 {
		slog.Info("requeued orphaned jobs", slog.Int("count", n))
	}

	c.wg.Add(1)
	go c.mover(ctx)
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	<-ctx.Done()
	slog.Info("queue consumer shutting down")
	c.shutdownOnce.Do(func() { close(c.shutdown) })
	return ctx.Err()
}

// Close signals shutdown and waits for workers to finish their in-flight
// jobs. Safe to call more than once.
func (c *Consumer) Close() error {
	c.shutdownOnce.Do(func() { close(c.shutdown) })
	c.wg.Wait()
	return nil
}

// mover promotes due retries on a short ticker.
func (c *Consumer) mover(ctx context.Context) {
	defer c.wg.Done()
	t := time.NewTicker(c.moveEvery)
	defer t.Stop()
	for {
		select {
		case <-c.shutdown:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := c.queue.MoveDue(ctx, moveBatch)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("move due retries failed", slog.Any("error", err))
				}
				continue
			}
			if n > 0 {
				slog.Debug("promoted scheduled retries", slog.Int("count", n))
			}
		}
	}
}

// worker reserves, waits for a dispatch token, and processes. A reserved job
// runs on a detached context so cancellation drains instead of aborting.
func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	slog.Info("queue worker started", slog.Int("worker_id", id))
	for {
		select {
		case <-c.shutdown:
			slog.Info("queue worker stopped", slog.Int("worker_id", id))
			return
		default:
		}

		job, err := c.queue.Reserve(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrQueueEmpty) {
				continue
			}
			if ctx.Err() != nil {
				slog.Info("queue worker stopped", slog.Int("worker_id", id))
				return
			}
			slog.Error("reserve failed", slog.Int("worker_id", id), slog.Any("error", err))
			time.Sleep(time.Second)
			continue
		}

		if !c.waitForSlot(ctx) {
			// shutdown while throttled: leave the job in the processing
			// list for the next start's orphan requeue
			slog.Info("shutdown while throttled, parking job",
				slog.Int("worker_id", id), slog.String("order_id", job.OrderID))
			continue
		}

		observability.StartProcessingJob()
		c.processor.Process(jobContext(context.WithoutCancel(ctx), job), job)
		observability.StopProcessingJob()
	}
}

// waitForSlot blocks until the dispatch bucket grants a token. Limiter
// errors fail open. Returns false only when shutdown interrupts the wait.
func (c *Consumer) waitForSlot(ctx context.Context) bool {
	if c.limiter == nil {
		return true
	}
	for {
		allowed, retryAfter, err := c.limiter.Allow(ctx, DispatchBucket, 1)
		if err != nil || allowed {
			return true
		}
		if retryAfter <= 0 {
			retryAfter = 100 * time.Millisecond
		}
		slog.Debug("dispatch throttled", slog.Duration("retry_after", retryAfter))
		select {
		case <-c.shutdown:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(retryAfter):
		}
	}
}

// jobContext correlates the worker context with the submitting request so
// downstream logs share its request_id.
func jobContext(ctx context.Context, job domain.Job) context.Context {
	if job.RequestID != "" {
		ctx = obsctx.ContextWithRequestID(ctx, job.RequestID)
	}
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("order_id", job.OrderID))
	if job.RequestID != "" {
		lg = lg.With(slog.String("request_id", job.RequestID))
	}
	return obsctx.ContextWithLogger(ctx, lg)
}
