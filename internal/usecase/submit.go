// Package usecase contains the application services: order intake and the
// worker-side execution of the order state machine. Services depend only on
// the domain ports so adapters stay swappable in tests.
package usecase

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/dex-order-engine/internal/domain"
	"github.com/fairyhunter13/dex-order-engine/internal/observability"
)

// SubmitInput is the parsed intake payload. Slippage nil means "apply the
// default"; a present value is range-checked.
type SubmitInput struct {
	OrderType string
	TokenIn   string
	TokenOut  string
	AmountIn  decimal.Decimal
	Slippage  *decimal.Decimal
}

// OrderService accepts new orders: validate, persist as pending, enqueue.
type OrderService struct {
	Store domain.OrderStore
	Queue domain.JobQueue
	Clock domain.Clock
}

// NewOrderService wires an OrderService with the system clock.
func NewOrderService(store domain.OrderStore, queue domain.JobQueue) OrderService {
	return OrderService{Store: store, Queue: queue, Clock: domain.SystemClock{}}
}

// Submit validates the input, persists the order in pending state and
// enqueues its execution job under the order id. When the enqueue fails the
// order is rolled back to failed so it cannot linger as a pending record
// nothing will ever pick up.
func (s OrderService) Submit(ctx domain.Context, in SubmitInput) (domain.Order, error) {
	if err := validateSubmit(in); err != nil {
		return domain.Order{}, err
	}

	slippage := domain.DefaultSlippage
	if in.Slippage != nil {
		slippage = *in.Slippage
	}

	now := s.Clock.Now()
	order := domain.Order{
		ID:        uuid.NewString(),
		Type:      domain.OrderType(in.OrderType),
		TokenIn:   in.TokenIn,
		TokenOut:  in.TokenOut,
		AmountIn:  in.AmountIn,
		Slippage:  slippage,
		Status:    domain.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.Save(ctx, order); err != nil {
		return domain.Order{}, err
	}

	job := domain.Job{
		OrderID:    order.ID,
		Order:      order,
		RequestID:  observability.RequestIDFromContext(ctx),
		EnqueuedAt: now,
	}
	if err := s.Queue.Enqueue(ctx, job, domain.EnqueueOptions{JobID: order.ID}); err != nil {
		patch := domain.StatusPatch(domain.OrderFailed)
		patch.Error = ptr("enqueue failed")
		_ = s.Store.Update(ctx, order.ID, patch)
		return domain.Order{}, fmt.Errorf("op=order.submit: enqueue %s: %w", order.ID, err)
	}
	return order, nil
}

// Get loads one order by id.
func (s OrderService) Get(ctx domain.Context, id string) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: order id required", domain.ErrInvalidArgument)
	}
	return s.Store.Get(ctx, id)
}

func validateSubmit(in SubmitInput) error {
	if in.TokenIn == "" {
		return fmt.Errorf("%w: tokenIn is required", domain.ErrInvalidArgument)
	}
	if in.TokenOut == "" {
		return fmt.Errorf("%w: tokenOut is required", domain.ErrInvalidArgument)
	}
	if in.OrderType != string(domain.OrderTypeMarket) {
		return domain.ErrUnsupportedOrderType
	}
	if !in.AmountIn.IsPositive() {
		return fmt.Errorf("%w: amountIn must be greater than zero", domain.ErrInvalidArgument)
	}
	if in.Slippage != nil {
		if in.Slippage.IsNegative() || in.Slippage.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: slippage must be within [0, 1]", domain.ErrInvalidArgument)
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
