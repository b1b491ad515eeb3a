package domain

import "errors"

// Sentinel errors. Adapters wrap these with operation context
// (fmt.Errorf("op=...: %w", err)) and callers match with errors.Is.
var (
	// ErrInvalidArgument marks client mistakes: malformed payloads, missing
	// fields, unsupported order types, non-positive amounts.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound marks lookups for ids that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks uniqueness violations, e.g. saving an order id twice.
	ErrConflict = errors.New("conflict")
	// ErrRateLimited marks requests rejected by a throughput limiter.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable marks a backing service that cannot be reached.
	ErrUnavailable = errors.New("unavailable")
	// ErrNetworkCongestion is the simulated venue failure during execution.
	// It is transient: the attempt counts against the budget and the job is
	// retried with backoff.
	ErrNetworkCongestion = errors.New("network congestion")
	// ErrQueueEmpty is returned by Reserve when no job became eligible
	// within the poll window.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrUnsupportedOrderType rejects intake of anything but market orders.
	// Its text is the client-facing rejection message, so it is not wrapped
	// with operation context.
	ErrUnsupportedOrderType error = unsupportedOrderTypeError{}
)

type unsupportedOrderTypeError struct{}

func (unsupportedOrderTypeError) Error() string {
	return "Only market orders are supported in this implementation"
}

func (unsupportedOrderTypeError) Unwrap() error { return ErrInvalidArgument }

// IsFatal reports whether err should terminate a job immediately instead of
// consuming further attempts. Constraint violations and invalid payloads
// cannot heal on retry.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrConflict)
}
