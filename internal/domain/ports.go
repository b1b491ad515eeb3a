package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Context is an alias to avoid importing context in every signature.
type Context = context.Context

// OrderStore persists orders. Updates to a single order id are serialized by
// the implementation; distinct ids may proceed in parallel.
type OrderStore interface {
	// Save inserts a new order and fails with ErrConflict when the id exists.
	Save(ctx Context, o Order) error
	// Update applies a partial mutation and refreshes updated_at. Unknown ids
	// are a silent no-op so late writes after a forced clean cannot fail a
	// worker.
	Update(ctx Context, id string, patch OrderPatch) error
	// Get loads an order, ErrNotFound when absent.
	Get(ctx Context, id string) (Order, error)
	// ListStale returns non-terminal orders whose updated_at is older than
	// the cutoff, capped at limit. Used by the sweeper.
	ListStale(ctx Context, cutoff time.Time, limit int) ([]Order, error)
}

// JobQueue is the durable job store. It owns the retry budget, the backoff
// schedule and retention; workers only reserve, complete, and fail.
type JobQueue interface {
	// Enqueue registers a job under opts.JobID. Re-enqueueing an existing id
	// is an idempotent no-op.
	Enqueue(ctx Context, job Job, opts EnqueueOptions) error
	// Reserve blocks briefly for the next eligible job. ErrQueueEmpty when
	// nothing became eligible within the poll window.
	Reserve(ctx Context) (Job, error)
	// Complete moves a reserved job into the completed retention set.
	Complete(ctx Context, job Job) error
	// Fail records a failed attempt and either schedules a retry with
	// exponential backoff or, when the budget is spent, moves the job to the
	// failed retention set.
	Fail(ctx Context, job Job, cause error) (RetryDecision, error)
	// Discard fails a job immediately without consuming remaining attempts.
	// Used for fatal errors that cannot heal on retry.
	Discard(ctx Context, job Job, cause error) (RetryDecision, error)
}

// SwapRouter produces routing decisions and executes swaps. The mock
// implementation is deterministic under a seeded PRNG.
type SwapRouter interface {
	// BestRoute quotes every venue concurrently and selects the largest
	// amount_out, ties breaking toward the first-listed venue.
	BestRoute(ctx Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (RouteResult, error)
	// ExecuteSwap performs the swap on the selected venue, applying realized
	// slippage in [0, slippage).
	ExecuteSwap(ctx Context, dex DEX, amountIn, expectedOut, slippage decimal.Decimal) (SwapResult, error)
}

// StreamPublisher is the worker-facing side of the connection registry.
// Publishing to an order with no attached socket is a silent no-op; publish
// failures never propagate to the caller.
type StreamPublisher interface {
	Publish(orderID string, status OrderStatus, data map[string]any)
	// ScheduleClose closes the order's socket after the grace period, giving
	// the client time to read the terminal frame.
	ScheduleClose(orderID string, after time.Duration)
	Count() int
}

// Clock abstracts time so failure timestamps are testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
