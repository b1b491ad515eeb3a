// Package redisq implements the durable order job queue on Redis primitives:
// a ready list feeding workers, a processing list for reserved jobs, a
// scheduled zset for backoff retries, and capped retention lists for
// terminal jobs. Job records live in per-job hashes keyed by order id.
package redisq

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/dex-order-engine/internal/adapter/observability"
	"github.com/fairyhunter13/dex-order-engine/internal/domain"
)

const (
	keyPrefix     = "orderq:"
	keyReady      = keyPrefix + "ready"
	keyProcessing = keyPrefix + "processing"
	keyScheduled  = keyPrefix + "scheduled"
	keyCompleted  = keyPrefix + "completed"
	keyFailed     = keyPrefix + "failed"
)

const (
	statusQueued     = "queued"
	statusProcessing = "processing"
	statusScheduled  = "scheduled"
	statusCompleted  = "completed"
	statusFailed     = "failed"
)

func jobKey(id string) string { return keyPrefix + "job:" + id }

// moveDueScript drains due members of the scheduled zset into the ready list
// in one atomic step, so a retry is never both scheduled and ready.
const moveDueScript = `
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
  redis.call("ZREM", KEYS[1], id)
  redis.call("LPUSH", KEYS[2], id)
end
return #due
`

// Config bounds the queue's retry budget and retention.
type Config struct {
	// MaxAttempts caps attempts per job, first run included.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff: base, 2x, 4x, ...
	BaseDelay time.Duration
	// CompletedTTL and CompletedMax bound the completed retention set.
	CompletedTTL time.Duration
	CompletedMax int64
	// FailedTTL bounds the failed retention set.
	FailedTTL time.Duration
	// ReserveWait is how long Reserve blocks before reporting ErrQueueEmpty.
	ReserveWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.CompletedTTL <= 0 {
		c.CompletedTTL = time.Hour
	}
	if c.CompletedMax <= 0 {
		c.CompletedMax = 100
	}
	if c.FailedTTL <= 0 {
		c.FailedTTL = 2 * time.Hour
	}
	if c.ReserveWait <= 0 {
		c.ReserveWait = time.Second
	}
	return c
}

// Queue is the Redis-backed domain.JobQueue.
type Queue struct {
	rdb     *redis.Client
	clock   domain.Clock
	cfg     Config
	moveDue *redis.Script
}

// NewQueue builds a Queue. The clock stamps schedule scores and record
// timestamps; tests inject a fixed one.
func NewQueue(rdb *redis.Client, clock domain.Clock, cfg Config) *Queue {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Queue{
		rdb:     rdb,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		moveDue: redis.NewScript(moveDueScript),
	}
}

// Enqueue registers the job under its order id. The payload hash is created
// with HSETNX, so enqueueing an id that already has a record, live or
// retained, is a no-op.
func (q *Queue) Enqueue(ctx domain.Context, job domain.Job, opts domain.EnqueueOptions) error {
	id := opts.JobID
	if id == "" {
		id = job.OrderID
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("op=queue.enqueue: encode %s: %w", id, err)
	}
	created, err := q.rdb.HSetNX(ctx, jobKey(id), "payload", payload).Result()
	if err != nil {
		return fmt.Errorf("op=queue.enqueue: %w", err)
	}
	if !created {
		return nil
	}
	now := q.timestamp()
	if err := q.rdb.HSet(ctx, jobKey(id),
		"status", statusQueued,
		"attempts", 0,
		"enqueued_at", now,
		"updated_at", now,
	).Err(); err != nil {
		return fmt.Errorf("op=queue.enqueue: %w", err)
	}
	if err := q.rdb.LPush(ctx, keyReady, id).Err(); err != nil {
		return fmt.Errorf("op=queue.enqueue: %w", err)
	}
	observability.EnqueueJob()
	return nil
}

// Reserve blocks up to ReserveWait for the next ready job and moves it to
// the processing list. The returned job carries the count of attempts
// already consumed.
func (q *Queue) Reserve(ctx domain.Context) (domain.Job, error) {
	id, err := q.rdb.BRPopLPush(ctx, keyReady, keyProcessing, q.cfg.ReserveWait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Job{}, domain.ErrQueueEmpty
		}
		return domain.Job{}, fmt.Errorf("op=queue.reserve: %w", err)
	}
	fields, err := q.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=queue.reserve: load %s: %w", id, err)
	}
	payload, ok := fields["payload"]
	if !ok || payload == "" {
		// record expired or was never written; drop the stray id
		q.rdb.LRem(ctx, keyProcessing, 1, id)
		return domain.Job{}, fmt.Errorf("op=queue.reserve: job %s has no record: %w", id, domain.ErrQueueEmpty)
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		q.rdb.LRem(ctx, keyProcessing, 1, id)
		return domain.Job{}, fmt.Errorf("op=queue.reserve: decode %s: %w", id, err)
	}
	if n, convErr := strconv.Atoi(fields["attempts"]); convErr == nil {
		job.Attempts = n
	}
	_ = q.rdb.HSet(ctx, jobKey(id), "status", statusProcessing, "updated_at", q.timestamp()).Err()
	return job, nil
}

// Complete moves a reserved job into the completed retention set, trimming
// it to the configured count and TTL.
func (q *Queue) Complete(ctx domain.Context, job domain.Job) error {
	id := job.OrderID
	now := q.timestamp()
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, keyProcessing, 1, id)
	pipe.HSet(ctx, jobKey(id), "status", statusCompleted, "finished_at", now, "updated_at", now)
	pipe.Expire(ctx, jobKey(id), q.cfg.CompletedTTL)
	pipe.LPush(ctx, keyCompleted, id)
	pipe.Expire(ctx, keyCompleted, q.cfg.CompletedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.complete: %w", err)
	}
	observability.FinishAttempt("completed")
	observability.FinishOrder(string(domain.OrderConfirmed))
	return q.trimCompleted(ctx)
}

// trimCompleted enforces the completed-count cap, deleting the records of
// jobs that fall off the end of the retention list.
func (q *Queue) trimCompleted(ctx domain.Context) error {
	overflow, err := q.rdb.LRange(ctx, keyCompleted, q.cfg.CompletedMax, -1).Result()
	if err != nil {
		return fmt.Errorf("op=queue.complete: trim: %w", err)
	}
	if len(overflow) == 0 {
		return nil
	}
	keys := make([]string, 0, len(overflow))
	for _, id := range overflow {
		keys = append(keys, jobKey(id))
	}
	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.LTrim(ctx, keyCompleted, 0, q.cfg.CompletedMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.complete: trim: %w", err)
	}
	return nil
}

// Fail records a failed attempt. While budget remains, the job lands in the
// scheduled zset with exponential backoff; on the last attempt it moves to
// the failed retention set.
func (q *Queue) Fail(ctx domain.Context, job domain.Job, cause error) (domain.RetryDecision, error) {
	id := job.OrderID
	attempts, err := q.rdb.HIncrBy(ctx, jobKey(id), "attempts", 1).Result()
	if err != nil {
		return domain.RetryDecision{}, fmt.Errorf("op=queue.fail: %w", err)
	}
	made := int(attempts)
	if made >= q.cfg.MaxAttempts {
		if err := q.moveToFailed(ctx, id, cause); err != nil {
			return domain.RetryDecision{}, err
		}
		observability.FinishAttempt("failed")
		observability.FinishOrder(string(domain.OrderFailed))
		return domain.RetryDecision{Final: true, Attempts: made}, nil
	}

	delay := q.cfg.BaseDelay << (made - 1)
	readyAt := q.clock.Now().Add(delay)
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, keyProcessing, 1, id)
	pipe.HSet(ctx, jobKey(id), "status", statusScheduled, "last_error", cause.Error(), "updated_at", q.timestamp())
	pipe.ZAdd(ctx, keyScheduled, redis.Z{Score: epochSeconds(readyAt), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.RetryDecision{}, fmt.Errorf("op=queue.fail: %w", err)
	}
	observability.FinishAttempt("retry_scheduled")
	observability.JobRetriesScheduledTotal.Inc()
	return domain.RetryDecision{RetryIn: delay, Attempts: made}, nil
}

// Discard fails the job immediately, consuming only the attempt that raised
// the fatal error.
func (q *Queue) Discard(ctx domain.Context, job domain.Job, cause error) (domain.RetryDecision, error) {
	id := job.OrderID
	attempts, err := q.rdb.HIncrBy(ctx, jobKey(id), "attempts", 1).Result()
	if err != nil {
		return domain.RetryDecision{}, fmt.Errorf("op=queue.discard: %w", err)
	}
	if err := q.moveToFailed(ctx, id, cause); err != nil {
		return domain.RetryDecision{}, err
	}
	observability.FinishAttempt("discarded")
	observability.FinishOrder(string(domain.OrderFailed))
	return domain.RetryDecision{Final: true, Attempts: int(attempts)}, nil
}

func (q *Queue) moveToFailed(ctx domain.Context, id string, cause error) error {
	now := q.timestamp()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, keyProcessing, 1, id)
	pipe.HSet(ctx, jobKey(id), "status", statusFailed, "last_error", msg, "failed_at", now, "updated_at", now)
	pipe.Expire(ctx, jobKey(id), q.cfg.FailedTTL)
	pipe.LPush(ctx, keyFailed, id)
	pipe.Expire(ctx, keyFailed, q.cfg.FailedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.fail: %w", err)
	}
	return nil
}

// MoveDue promotes scheduled jobs whose backoff has elapsed into the ready
// list. The consumer calls it on a short ticker.
func (q *Queue) MoveDue(ctx domain.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 128
	}
	now := epochSeconds(q.clock.Now())
	n, err := q.moveDue.Run(ctx, q.rdb, []string{keyScheduled, keyReady}, now, limit).Int()
	if err != nil {
		return 0, fmt.Errorf("op=queue.move_due: %w", err)
	}
	return n, nil
}

// RequeueOrphans moves jobs parked in the processing list back to ready.
// Call once at startup before workers run; jobs reserved by a previous
// process would otherwise never be delivered again.
func (q *Queue) RequeueOrphans(ctx domain.Context) (int, error) {
	n := 0
	for {
		_, err := q.rdb.RPopLPush(ctx, keyProcessing, keyReady).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return n, nil
			}
			return n, fmt.Errorf("op=queue.requeue_orphans: %w", err)
		}
		n++
	}
}

func (q *Queue) timestamp() string {
	return q.clock.Now().UTC().Format(time.RFC3339Nano)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
