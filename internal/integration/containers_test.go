//go:build integration

// Package integration spins real Postgres and Redis containers and drives the
// storage and queue adapters against them. Run with:
//
//	go test -tags integration ./internal/integration/...
package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fairyhunter13/dex-order-engine/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/dex-order-engine/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/dex-order-engine/internal/domain"
)

func startPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "orders",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := "postgres://postgres:postgres@" + host + ":" + port.Port() + "/orders?sslmode=disable"
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ddl, err := os.ReadFile("../../deploy/sql/001_orders.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(ddl))
	require.NoError(t, err)
	return pool
}

func startRedis(t *testing.T, ctx context.Context) *redis.Client {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestOrderRepoRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool := startPostgres(t, ctx)
	repo := postgres.NewOrderRepo(pool)

	now := time.Now().UTC().Truncate(time.Millisecond)
	order := domain.Order{
		ID:        "11111111-2222-4333-8444-555555555555",
		Type:      domain.OrderTypeMarket,
		TokenIn:   "SOL",
		TokenOut:  "USDC",
		AmountIn:  decimal.NewFromFloat(1.5),
		Slippage:  decimal.NewFromFloat(0.01),
		Status:    domain.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Save(ctx, order))

	// Duplicate ids surface as conflicts.
	err := repo.Save(ctx, order)
	require.ErrorIs(t, err, domain.ErrConflict)

	got, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderPending, got.Status)
	require.True(t, got.AmountIn.Equal(order.AmountIn), "amount_in mismatch: %s", got.AmountIn)

	price := decimal.NewFromFloat(1.0134)
	out := decimal.NewFromFloat(151.02)
	tx := "mock_tx_1700000000000_ab12cd34"
	dex := domain.DEXMeteora
	status := domain.OrderConfirmed
	require.NoError(t, repo.Update(ctx, order.ID, domain.OrderPatch{
		Status:        &status,
		DexUsed:       &dex,
		ExecutedPrice: &price,
		AmountOut:     &out,
		TxHash:        &tx,
	}))

	got, err = repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderConfirmed, got.Status)
	require.NotNil(t, got.TxHash)
	require.Equal(t, tx, *got.TxHash)
	require.NotNil(t, got.ExecutedPrice)
	require.True(t, got.ExecutedPrice.Equal(price))

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueueRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rdb := startRedis(t, ctx)
	q := redisq.NewQueue(rdb, domain.SystemClock{}, redisq.Config{
		MaxAttempts:  3,
		BaseDelay:    10 * time.Millisecond,
		CompletedTTL: time.Hour,
		CompletedMax: 100,
		FailedTTL:    2 * time.Hour,
	})

	job := domain.Job{
		OrderID: "order-int-1",
		Order: domain.Order{
			ID:       "order-int-1",
			Type:     domain.OrderTypeMarket,
			TokenIn:  "SOL",
			TokenOut: "USDC",
			AmountIn: decimal.NewFromFloat(2),
			Slippage: decimal.NewFromFloat(0.01),
			Status:   domain.OrderPending,
		},
	}
	require.NoError(t, q.Enqueue(ctx, job, domain.EnqueueOptions{JobID: job.OrderID}))
	// Same id again is a no-op.
	require.NoError(t, q.Enqueue(ctx, job, domain.EnqueueOptions{JobID: job.OrderID}))

	got, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.Equal(t, job.OrderID, got.OrderID)
	require.Equal(t, "SOL", got.Order.TokenIn)

	require.NoError(t, q.Complete(ctx, got))

	_, err = q.Reserve(ctx)
	require.ErrorIs(t, err, domain.ErrQueueEmpty)
}
