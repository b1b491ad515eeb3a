// Package postgres persists orders in PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/dex-order-engine/internal/domain"
)

// PgxPool is the minimal pool surface the repository needs; tests stub it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OrderRepo persists and loads orders from PostgreSQL using a minimal pgx pool.
type OrderRepo struct{ Pool PgxPool }

// NewOrderRepo constructs an OrderRepo with the given pool.
func NewOrderRepo(p PgxPool) *OrderRepo { return &OrderRepo{Pool: p} }

const orderColumns = `order_id, order_type, token_in, token_out, amount_in, slippage, status, dex_used, executed_price, amount_out, tx_hash, error, created_at, updated_at`

// Save inserts a new order. A duplicate order_id maps to domain.ErrConflict;
// other integrity violations map to domain.ErrInvalidArgument because they
// cannot heal on retry.
func (r *OrderRepo) Save(ctx domain.Context, o domain.Order) error {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.Save")
	defer span.End()
	q := `INSERT INTO orders (` + orderColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err := r.Pool.Exec(ctx, q,
		o.ID, o.Type, o.TokenIn, o.TokenOut, o.AmountIn, o.Slippage, o.Status,
		o.DexUsed, o.ExecutedPrice, o.AmountOut, o.TxHash, o.Error, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return fmt.Errorf("op=order.save: id %s: %w", o.ID, domain.ErrConflict)
			}
			if strings.HasPrefix(pgErr.Code, "23") {
				return fmt.Errorf("op=order.save: constraint %s: %w", pgErr.ConstraintName, domain.ErrInvalidArgument)
			}
		}
		return fmt.Errorf("op=order.save: %w", err)
	}
	return nil
}

// Update applies a partial mutation and refreshes updated_at. The statement
// is a single-row conditional update, so concurrent writers to the same id
// serialize on the row lock. Unknown ids affect zero rows and return nil.
func (r *OrderRepo) Update(ctx domain.Context, id string, patch domain.OrderPatch) error {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.Update")
	defer span.End()
	q := `UPDATE orders SET
		status = COALESCE($2, status),
		dex_used = COALESCE($3, dex_used),
		executed_price = COALESCE($4, executed_price),
		amount_out = COALESCE($5, amount_out),
		tx_hash = COALESCE($6, tx_hash),
		error = COALESCE($7, error),
		updated_at = $8
	WHERE order_id = $1`
	_, err := r.Pool.Exec(ctx, q, id,
		patch.Status, patch.DexUsed, patch.ExecutedPrice, patch.AmountOut, patch.TxHash, patch.Error,
		time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
			return fmt.Errorf("op=order.update: constraint %s: %w", pgErr.ConstraintName, domain.ErrInvalidArgument)
		}
		return fmt.Errorf("op=order.update: %w", err)
	}
	return nil
}

// Get loads an order by id.
func (r *OrderRepo) Get(ctx domain.Context, id string) (domain.Order, error) {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.Get")
	defer span.End()
	q := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`
	row := r.Pool.QueryRow(ctx, q, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("op=order.get: %w", domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("op=order.get: %w", err)
	}
	return o, nil
}

// ListStale returns non-terminal orders last touched before the cutoff,
// oldest first.
func (r *OrderRepo) ListStale(ctx domain.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.ListStale")
	defer span.End()
	q := `SELECT ` + orderColumns + ` FROM orders
		WHERE status NOT IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4`
	rows, err := r.Pool.Query(ctx, q, domain.OrderConfirmed, domain.OrderFailed, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("op=order.list_stale: %w", err)
	}
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("op=order.list_stale: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=order.list_stale: %w", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.Type, &o.TokenIn, &o.TokenOut, &o.AmountIn, &o.Slippage, &o.Status,
		&o.DexUsed, &o.ExecutedPrice, &o.AmountOut, &o.TxHash, &o.Error, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}
