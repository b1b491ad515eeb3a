package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/dex-order-engine/internal/domain"
)

// CleanupService deletes terminal orders whose updated_at fell outside the
// retention window. Pending and in-flight orders are never touched; the
// stale-order sweeper owns those.
type CleanupService struct {
	Pool      PgxPool
	Retention time.Duration
	Clock     domain.Clock
}

// NewCleanupService creates a cleanup service. Non-positive retention falls
// back to seven days.
func NewCleanupService(pool PgxPool, retention time.Duration) *CleanupService {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &CleanupService{Pool: pool, Retention: retention, Clock: domain.SystemClock{}}
}

// PurgeOldOrders removes confirmed and failed orders older than the retention
// window and reports how many rows went away.
func (s *CleanupService) PurgeOldOrders(ctx context.Context) (int64, error) {
	cutoff := s.Clock.Now().Add(-s.Retention)
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM orders WHERE status IN ($1, $2) AND updated_at < $3`,
		domain.OrderConfirmed, domain.OrderFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=order.purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunPeriodic purges once immediately and then on every tick until the
// context is canceled. Non-positive intervals fall back to hourly.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.purgeAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("order cleanup stopping")
			return
		case <-ticker.C:
			s.purgeAndLog(ctx)
		}
	}
}

func (s *CleanupService) purgeAndLog(ctx context.Context) {
	n, err := s.PurgeOldOrders(ctx)
	if err != nil {
		slog.Error("order cleanup failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		slog.Info("old orders purged",
			slog.Int64("deleted", n),
			slog.Duration("retention", s.Retention))
	}
}
