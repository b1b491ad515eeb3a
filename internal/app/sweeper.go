package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/dex-order-engine/internal/domain"
)

// StaleOrderSweeper fails orders that stopped making progress, e.g. after a
// crash between a store write and the queue bookkeeping. It is a safety net
// behind the queue's own retry budget, not part of the normal lifecycle.
type StaleOrderSweeper struct {
	store      domain.OrderStore
	stream     domain.StreamPublisher
	clock      domain.Clock
	stuckAfter time.Duration
	interval   time.Duration
}

// NewStaleOrderSweeper returns nil when store is nil so callers can skip
// wiring it in setups without a sweeper.
func NewStaleOrderSweeper(store domain.OrderStore, stream domain.StreamPublisher, stuckAfter, interval time.Duration) *StaleOrderSweeper {
	if store == nil {
		return nil
	}
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StaleOrderSweeper{
		store:      store,
		stream:     stream,
		clock:      domain.SystemClock{},
		stuckAfter: stuckAfter,
		interval:   interval,
	}
}

// Run sweeps immediately and then on every tick until the context ends.
func (s *StaleOrderSweeper) Run(ctx context.Context) {
	if s == nil || s.store == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stale order sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StaleOrderSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("orders.sweeper")
	ctx, span := tracer.Start(ctx, "StaleOrderSweeper.sweepOnce")
	defer span.End()

	cutoff := s.clock.Now().Add(-s.stuckAfter)
	const pageSize = 100
	span.SetAttributes(
		attribute.Int("orders.page_size", pageSize),
		attribute.Float64("orders.stuck_after_seconds", s.stuckAfter.Seconds()),
	)

	totalChecked := 0
	totalFailed := 0

	// Marking an order failed refreshes its updated_at, so each pass returns
	// only orders the previous pass has not touched.
	for {
		orders, err := s.store.ListStale(ctx, cutoff, pageSize)
		if err != nil {
			span.RecordError(err)
			slog.Error("stale order sweep failed to list orders", slog.Any("error", err))
			return
		}
		totalChecked += len(orders)
		if len(orders) == 0 {
			break
		}

		for _, o := range orders {
			failedAt := domain.FormatTimestamp(s.clock.Now())
			msg := fmt.Sprintf("order made no progress for over %v; failed by sweeper at %s", s.stuckAfter, failedAt)
			patch := domain.StatusPatch(domain.OrderFailed)
			patch.Error = &msg
			if err := s.store.Update(ctx, o.ID, patch); err != nil {
				span.RecordError(err)
				slog.Error("stale order sweep failed to update order",
					slog.String("order_id", o.ID), slog.Any("error", err))
				continue
			}
			totalFailed++
			slog.Warn("stale order failed by sweeper",
				slog.String("order_id", o.ID),
				slog.String("status", string(o.Status)),
				slog.Time("last_update", o.UpdatedAt))
			if s.stream != nil {
				s.stream.Publish(o.ID, domain.OrderFailed, map[string]any{
					"error":     msg,
					"timestamp": failedAt,
				})
				s.stream.ScheduleClose(o.ID, time.Second)
			}
		}

		if len(orders) < pageSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("orders.total_checked", totalChecked),
		attribute.Int("orders.total_failed", totalFailed),
	)
}
