package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/dex-order-engine/internal/domain"
	"github.com/fairyhunter13/dex-order-engine/internal/observability"
)

// Executor runs one reserved job through the order lifecycle:
// routing -> building -> submitted -> confirmed. Every stage persists the
// order first and publishes the matching frame second, so a client that
// reconnects mid-flight never sees a frame ahead of the stored state.
//
// Executor implements the queue consumer's Processor and owns the
// Complete/Fail/Discard bookkeeping for the job it was handed.
type Executor struct {
	Store  domain.OrderStore
	Queue  domain.JobQueue
	Router domain.SwapRouter
	Stream domain.StreamPublisher
	Clock  domain.Clock

	// BuildDelay models transaction assembly between building and submitted.
	BuildDelay time.Duration
	// CloseGrace is how long a terminal frame stays readable before the
	// socket is closed.
	CloseGrace time.Duration
	// MaxAttempts mirrors the queue's budget for failure records.
	MaxAttempts int

	sleep func(ctx domain.Context, d time.Duration) error
}

// NewExecutor wires an Executor with production defaults.
func NewExecutor(store domain.OrderStore, queue domain.JobQueue, router domain.SwapRouter, stream domain.StreamPublisher) *Executor {
	return &Executor{
		Store:       store,
		Queue:       queue,
		Router:      router,
		Stream:      stream,
		Clock:       domain.SystemClock{},
		BuildDelay:  500 * time.Millisecond,
		CloseGrace:  time.Second,
		MaxAttempts: 3,
		sleep:       sleepCtx,
	}
}

// Process drives a single attempt and settles the job with the queue.
func (e *Executor) Process(ctx domain.Context, job domain.Job) {
	log := observability.LoggerFromContext(ctx)

	err := e.runAttempt(ctx, job)
	if err == nil {
		if cerr := e.Queue.Complete(ctx, job); cerr != nil {
			log.Error("completing job failed", slog.Any("error", cerr))
		}
		return
	}

	if domain.IsFatal(err) {
		dec, derr := e.Queue.Discard(ctx, job, err)
		if derr != nil {
			log.Error("discarding job failed", slog.Any("error", derr))
			dec = domain.RetryDecision{Final: true, Attempts: job.Attempts + 1}
		}
		e.recordPostMortem(ctx, job, err, dec)
		return
	}

	dec, ferr := e.Queue.Fail(ctx, job, err)
	if ferr != nil {
		// The job stays in the processing list; orphan requeue re-delivers
		// it on the next startup.
		log.Error("recording failed attempt failed", slog.Any("error", ferr), slog.Any("cause", err))
		return
	}
	if dec.Final {
		e.recordPostMortem(ctx, job, err, dec)
		return
	}
	log.Warn("attempt failed, retry scheduled",
		slog.Int("attempts", dec.Attempts),
		slog.Int("max_attempts", e.MaxAttempts),
		slog.Duration("retry_in", dec.RetryIn),
		slog.Any("error", err))
}

func (e *Executor) runAttempt(ctx domain.Context, job domain.Job) error {
	log := observability.LoggerFromContext(ctx)
	order := job.Order
	log.Info("attempt started",
		slog.Int("attempt", job.Attempts+1),
		slog.Int("max_attempts", e.MaxAttempts),
		slog.String("token_in", order.TokenIn),
		slog.String("token_out", order.TokenOut))

	if err := e.transition(ctx, order.ID, domain.OrderRouting, nil); err != nil {
		return err
	}
	route, err := e.Router.BestRoute(ctx, order.TokenIn, order.TokenOut, order.AmountIn)
	if err != nil {
		return err
	}

	dex := route.SelectedDex
	patch := domain.StatusPatch(domain.OrderBuilding)
	patch.DexUsed = &dex
	if err := e.Store.Update(ctx, order.ID, patch); err != nil {
		return err
	}
	e.Stream.Publish(order.ID, domain.OrderBuilding, map[string]any{"dex_used": string(dex)})
	if err := e.sleep(ctx, e.BuildDelay); err != nil {
		return err
	}

	if err := e.transition(ctx, order.ID, domain.OrderSubmitted, nil); err != nil {
		return err
	}
	swap, err := e.Router.ExecuteSwap(ctx, dex, order.AmountIn, route.Quote.AmountOut, order.Slippage)
	if err != nil {
		return err
	}

	patch = domain.StatusPatch(domain.OrderConfirmed)
	patch.ExecutedPrice = &swap.ExecutedPrice
	patch.AmountOut = &swap.AmountOut
	patch.TxHash = &swap.TxHash
	if err := e.Store.Update(ctx, order.ID, patch); err != nil {
		return err
	}
	e.Stream.Publish(order.ID, domain.OrderConfirmed, map[string]any{
		"tx_hash":        swap.TxHash,
		"executed_price": swap.ExecutedPrice.String(),
		"amount_out":     swap.AmountOut.String(),
		"dex_used":       string(dex),
	})
	e.Stream.ScheduleClose(order.ID, e.CloseGrace)

	log.Info("order confirmed",
		slog.String("dex_used", string(dex)),
		slog.String("tx_hash", swap.TxHash),
		slog.String("executed_price", swap.ExecutedPrice.String()),
		slog.String("amount_out", swap.AmountOut.String()))
	return nil
}

// transition persists a status-only advance, then publishes it.
func (e *Executor) transition(ctx domain.Context, orderID string, status domain.OrderStatus, data map[string]any) error {
	if err := e.Store.Update(ctx, orderID, domain.StatusPatch(status)); err != nil {
		return err
	}
	e.Stream.Publish(orderID, status, data)
	return nil
}

// recordPostMortem settles an order that is out of attempts: the stored
// error line keeps the cause, the attempt budget and the failure time
// together so the record stands on its own.
func (e *Executor) recordPostMortem(ctx domain.Context, job domain.Job, cause error, dec domain.RetryDecision) {
	log := observability.LoggerFromContext(ctx)
	failedAt := domain.FormatTimestamp(e.Clock.Now())
	errLine := fmt.Sprintf("%s | Attempts: %d/%d | Failed at: %s", cause.Error(), dec.Attempts, e.MaxAttempts, failedAt)

	patch := domain.StatusPatch(domain.OrderFailed)
	patch.Error = &errLine
	if err := e.Store.Update(ctx, job.OrderID, patch); err != nil {
		log.Error("post-mortem write failed", slog.Any("error", err))
	}
	e.Stream.Publish(job.OrderID, domain.OrderFailed, map[string]any{
		"error":        cause.Error(),
		"attempts":     dec.Attempts,
		"max_attempts": e.MaxAttempts,
		"timestamp":    failedAt,
	})
	e.Stream.ScheduleClose(job.OrderID, e.CloseGrace)

	log.Error("order failed terminally",
		slog.Int("attempts", dec.Attempts),
		slog.Int("max_attempts", e.MaxAttempts),
		slog.String("order_type", string(job.Order.Type)),
		slog.String("token_in", job.Order.TokenIn),
		slog.String("token_out", job.Order.TokenOut),
		slog.String("amount_in", job.Order.AmountIn.String()),
		slog.String("failed_at", failedAt),
		slog.Any("error", cause))
}

func sleepCtx(ctx domain.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
