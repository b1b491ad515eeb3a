package httpserver_test

import (
	"sync"
	"time"

	"github.com/fairyhunter13/dex-order-engine/internal/adapter/httpserver"
	"github.com/fairyhunter13/dex-order-engine/internal/adapter/ws"
	"github.com/fairyhunter13/dex-order-engine/internal/config"
	"github.com/fairyhunter13/dex-order-engine/internal/domain"
	"github.com/fairyhunter13/dex-order-engine/internal/usecase"
)

type memStore struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	saveErr error
}

func (m *memStore) Save(_ domain.Context, o domain.Order) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orders == nil {
		m.orders = map[string]domain.Order{}
	}
	if _, ok := m.orders[o.ID]; ok {
		return domain.ErrConflict
	}
	m.orders[o.ID] = o
	return nil
}

func (m *memStore) Update(_ domain.Context, id string, patch domain.OrderPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	if patch.Status != nil {
		o.Status = *patch.Status
	}
	if patch.DexUsed != nil {
		o.DexUsed = patch.DexUsed
	}
	if patch.ExecutedPrice != nil {
		o.ExecutedPrice = patch.ExecutedPrice
	}
	if patch.AmountOut != nil {
		o.AmountOut = patch.AmountOut
	}
	if patch.TxHash != nil {
		o.TxHash = patch.TxHash
	}
	if patch.Error != nil {
		o.Error = patch.Error
	}
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return nil
}

func (m *memStore) Get(_ domain.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *memStore) ListStale(domain.Context, time.Time, int) ([]domain.Order, error) {
	return nil, nil
}

func (m *memStore) put(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orders == nil {
		m.orders = map[string]domain.Order{}
	}
	m.orders[o.ID] = o
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type memQueue struct {
	mu       sync.Mutex
	enqueued []domain.EnqueueOptions
}

func (q *memQueue) Enqueue(_ domain.Context, _ domain.Job, opts domain.EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, opts)
	return nil
}

func (q *memQueue) Reserve(domain.Context) (domain.Job, error) {
	return domain.Job{}, domain.ErrQueueEmpty
}

func (q *memQueue) Complete(domain.Context, domain.Job) error { return nil }

func (q *memQueue) Fail(domain.Context, domain.Job, error) (domain.RetryDecision, error) {
	return domain.RetryDecision{}, nil
}

func (q *memQueue) Discard(domain.Context, domain.Job, error) (domain.RetryDecision, error) {
	return domain.RetryDecision{}, nil
}

func (q *memQueue) jobIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.enqueued))
	for _, e := range q.enqueued {
		ids = append(ids, e.JobID)
	}
	return ids
}

func newTestServer() (*httpserver.Server, *memStore, *memQueue, *ws.Registry) {
	store := &memStore{}
	queue := &memQueue{}
	registry := ws.NewRegistry(domain.SystemClock{})
	srv := httpserver.NewServer(config.Config{Port: 8080}, usecase.NewOrderService(store, queue), registry, nil, nil)
	return srv, store, queue, registry
}
