package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fairyhunter13/dex-order-engine/internal/domain"
)

type fakeOrderStore struct {
	stale       []domain.Order
	listErr     error
	updateErr   error
	updateCalls []struct {
		id    string
		patch domain.OrderPatch
	}
}

func (s *fakeOrderStore) Save(context.Context, domain.Order) error { return nil }

func (s *fakeOrderStore) Update(_ context.Context, id string, patch domain.OrderPatch) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updateCalls = append(s.updateCalls, struct {
		id    string
		patch domain.OrderPatch
	}{id: id, patch: patch})
	return nil
}

func (s *fakeOrderStore) Get(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}

func (s *fakeOrderStore) ListStale(context.Context, time.Time, int) ([]domain.Order, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	// One page only; the sweeper re-lists and must see nothing new.
	out := s.stale
	s.stale = nil
	return out, nil
}

type fakePublisher struct {
	published []string
	closes    []string
}

func (p *fakePublisher) Publish(orderID string, _ domain.OrderStatus, _ map[string]any) {
	p.published = append(p.published, orderID)
}

func (p *fakePublisher) ScheduleClose(orderID string, _ time.Duration) {
	p.closes = append(p.closes, orderID)
}

func (p *fakePublisher) Count() int { return 0 }

func TestNewStaleOrderSweeperDefaults(t *testing.T) {
	s := NewStaleOrderSweeper(&fakeOrderStore{}, nil, 0, 0)
	if s == nil {
		t.Fatalf("expected non-nil sweeper")
	}
	if s.stuckAfter <= 0 {
		t.Fatalf("stuckAfter should default, got %v", s.stuckAfter)
	}
	if s.interval <= 0 {
		t.Fatalf("interval should default, got %v", s.interval)
	}
}

func TestNewStaleOrderSweeperNilStore(t *testing.T) {
	if s := NewStaleOrderSweeper(nil, nil, time.Minute, time.Minute); s != nil {
		t.Fatalf("expected nil sweeper when store is nil")
	}
}

func TestSweepOnceFailsStaleOrders(t *testing.T) {
	store := &fakeOrderStore{
		stale: []domain.Order{
			{ID: "ord-stuck", Status: domain.OrderRouting, UpdatedAt: time.Now().Add(-time.Hour)},
		},
	}
	pub := &fakePublisher{}
	s := &StaleOrderSweeper{
		store:      store,
		stream:     pub,
		clock:      domain.SystemClock{},
		stuckAfter: 10 * time.Minute,
		interval:   time.Minute,
	}

	s.sweepOnce(context.Background())

	if len(store.updateCalls) != 1 {
		t.Fatalf("expected 1 update, got %d", len(store.updateCalls))
	}
	call := store.updateCalls[0]
	if call.id != "ord-stuck" {
		t.Fatalf("expected ord-stuck, got %q", call.id)
	}
	if call.patch.Status == nil || *call.patch.Status != domain.OrderFailed {
		t.Fatalf("expected failed status patch, got %+v", call.patch)
	}
	if call.patch.Error == nil || !strings.Contains(*call.patch.Error, "failed by sweeper") {
		t.Fatalf("expected sweeper failure message, got %+v", call.patch.Error)
	}
	if len(pub.published) != 1 || pub.published[0] != "ord-stuck" {
		t.Fatalf("expected failed frame publish, got %v", pub.published)
	}
	if len(pub.closes) != 1 {
		t.Fatalf("expected socket close to be scheduled, got %v", pub.closes)
	}
}

func TestSweepOnceSkipsUpdateFailures(t *testing.T) {
	store := &fakeOrderStore{
		stale:     []domain.Order{{ID: "ord-err", Status: domain.OrderRouting}},
		updateErr: context.DeadlineExceeded,
	}
	pub := &fakePublisher{}
	s := &StaleOrderSweeper{
		store:      store,
		stream:     pub,
		clock:      domain.SystemClock{},
		stuckAfter: time.Minute,
		interval:   time.Minute,
	}

	s.sweepOnce(context.Background())

	if len(pub.published) != 0 {
		t.Fatalf("no publish expected when the store write fails, got %v", pub.published)
	}
}

func TestSweeperRunStopsOnContextDone(t *testing.T) {
	s := NewStaleOrderSweeper(&fakeOrderStore{}, nil, time.Minute, 10*time.Millisecond)
	if s == nil {
		t.Fatalf("expected non-nil sweeper")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop after context cancellation")
	}
}
