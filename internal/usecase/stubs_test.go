package usecase

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/dex-order-engine/internal/domain"
)

// eventLog records the interleaving of store writes and stream publishes so
// tests can assert that frames never run ahead of persisted state.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type stubStore struct {
	log       *eventLog
	saveErr   error
	updateErr func(id string, patch domain.OrderPatch) error

	mu      sync.Mutex
	saved   []domain.Order
	patches []domain.OrderPatch
}

func (s *stubStore) Save(_ domain.Context, o domain.Order) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	s.saved = append(s.saved, o)
	s.mu.Unlock()
	if s.log != nil {
		s.log.add("save:" + string(o.Status))
	}
	return nil
}

func (s *stubStore) Update(_ domain.Context, id string, patch domain.OrderPatch) error {
	if s.updateErr != nil {
		if err := s.updateErr(id, patch); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.patches = append(s.patches, patch)
	s.mu.Unlock()
	if s.log != nil && patch.Status != nil {
		s.log.add("update:" + string(*patch.Status))
	}
	return nil
}

func (s *stubStore) Get(_ domain.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.saved {
		if o.ID == id {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (s *stubStore) ListStale(domain.Context, time.Time, int) ([]domain.Order, error) {
	return nil, nil
}

func (s *stubStore) snapshotPatches() []domain.OrderPatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OrderPatch(nil), s.patches...)
}

type enqueuedJob struct {
	job  domain.Job
	opts domain.EnqueueOptions
}

type stubQueue struct {
	log        *eventLog
	enqueueErr error
	failDec    domain.RetryDecision
	discardDec domain.RetryDecision

	mu        sync.Mutex
	enqueued  []enqueuedJob
	completed []string
	failed    []error
	discarded []error
}

func (q *stubQueue) Enqueue(_ domain.Context, job domain.Job, opts domain.EnqueueOptions) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.mu.Lock()
	q.enqueued = append(q.enqueued, enqueuedJob{job: job, opts: opts})
	q.mu.Unlock()
	if q.log != nil {
		q.log.add("enqueue")
	}
	return nil
}

func (q *stubQueue) Reserve(domain.Context) (domain.Job, error) {
	return domain.Job{}, domain.ErrQueueEmpty
}

func (q *stubQueue) Complete(_ domain.Context, job domain.Job) error {
	q.mu.Lock()
	q.completed = append(q.completed, job.OrderID)
	q.mu.Unlock()
	if q.log != nil {
		q.log.add("complete")
	}
	return nil
}

func (q *stubQueue) Fail(_ domain.Context, _ domain.Job, cause error) (domain.RetryDecision, error) {
	q.mu.Lock()
	q.failed = append(q.failed, cause)
	q.mu.Unlock()
	if q.log != nil {
		q.log.add("fail")
	}
	return q.failDec, nil
}

func (q *stubQueue) Discard(_ domain.Context, _ domain.Job, cause error) (domain.RetryDecision, error) {
	q.mu.Lock()
	q.discarded = append(q.discarded, cause)
	q.mu.Unlock()
	if q.log != nil {
		q.log.add("discard")
	}
	return q.discardDec, nil
}

type stubRouter struct {
	route    domain.RouteResult
	routeErr error
	swap     domain.SwapResult
	swapErr  error

	mu        sync.Mutex
	quoted    int
	executed  []domain.DEX
	slippages []decimal.Decimal
}

func (r *stubRouter) BestRoute(_ domain.Context, _, _ string, _ decimal.Decimal) (domain.RouteResult, error) {
	r.mu.Lock()
	r.quoted++
	r.mu.Unlock()
	if r.routeErr != nil {
		return domain.RouteResult{}, r.routeErr
	}
	return r.route, nil
}

func (r *stubRouter) ExecuteSwap(_ domain.Context, dex domain.DEX, _, _, slippage decimal.Decimal) (domain.SwapResult, error) {
	r.mu.Lock()
	r.executed = append(r.executed, dex)
	r.slippages = append(r.slippages, slippage)
	r.mu.Unlock()
	if r.swapErr != nil {
		return domain.SwapResult{}, r.swapErr
	}
	return r.swap, nil
}

type publishedFrame struct {
	orderID string
	status  domain.OrderStatus
	data    map[string]any
}

type stubStream struct {
	log *eventLog

	mu        sync.Mutex
	published []publishedFrame
	closes    []time.Duration
}

func (s *stubStream) Publish(orderID string, status domain.OrderStatus, data map[string]any) {
	s.mu.Lock()
	s.published = append(s.published, publishedFrame{orderID: orderID, status: status, data: data})
	s.mu.Unlock()
	if s.log != nil {
		s.log.add("publish:" + string(status))
	}
}

func (s *stubStream) ScheduleClose(_ string, after time.Duration) {
	s.mu.Lock()
	s.closes = append(s.closes, after)
	s.mu.Unlock()
	if s.log != nil {
		s.log.add("schedule_close")
	}
}

func (s *stubStream) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

func (s *stubStream) snapshotFrames() []publishedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishedFrame(nil), s.published...)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
