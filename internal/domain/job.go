package domain

import "time"

// Job is the queue payload: the order snapshot taken at submission time plus
// the bookkeeping the queue maintains across attempts. Attempts counts
// finished attempts, so a freshly reserved job carries the number of failures
// so far.
type Job struct {
	OrderID    string    `json:"order_id"`
	Order      Order     `json:"order"`
	RequestID  string    `json:"request_id,omitempty"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// EnqueueOptions control job identity. JobID doubles as the idempotency key:
// enqueueing an order that is already queued is a no-op.
type EnqueueOptions struct {
	JobID string
}

// RetryDecision is the queue's verdict after a failed attempt.
type RetryDecision struct {
	// RetryIn is the scheduled delay before the next attempt. Zero when Final.
	RetryIn time.Duration
	// Final indicates the attempt budget is exhausted and the job has moved
	// to the failed retention set.
	Final bool
	// Attempts is the authoritative count of attempts made, including the
	// one that just failed.
	Attempts int
}
