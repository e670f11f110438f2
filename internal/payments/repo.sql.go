package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/timberline-erp/timberline/internal/platform/db"
	"github.com/timberline-erp/timberline/internal/shared"
)

// Repository persists payments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("payments repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListPayments returns a sale's payments, oldest first.
func (r *Repository) ListPayments(ctx context.Context, saleID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, receipt, amount, method, note, received_at
FROM sale_payments WHERE sale_id=$1 ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.SaleID, &p.Receipt, &p.Amount, &p.Method, &p.Note, &p.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetSaleBalance returns a sale's financial balance.
func (r *Repository) GetSaleBalance(ctx context.Context, saleID int64) (SaleBalance, error) {
	return scanBalance(ctx, r.pool, saleID, "")
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanBalance(ctx context.Context, q rowQuerier, saleID int64, suffix string) (SaleBalance, error) {
	var bal SaleBalance
	err := q.QueryRow(ctx, `SELECT id, total_booking_amount, remaining_amount FROM sales WHERE id=$1`+suffix, saleID).
		Scan(&bal.SaleID, &bal.Total, &bal.Remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return SaleBalance{}, fmt.Errorf("%w: sale %d", shared.ErrNotFound, saleID)
	}
	return bal, err
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetSaleBalanceForUpdate(ctx context.Context, saleID int64) (SaleBalance, error) {
	return scanBalance(ctx, r.tx, saleID, " FOR UPDATE")
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_payments (sale_id, receipt, amount, method, note, received_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, p.SaleID, p.Receipt, p.Amount, p.Method, p.Note, p.ReceivedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert payment: %w", err)
	}
	return id, nil
}

func (r *txRepository) UpdateRemaining(ctx context.Context, saleID int64, remaining decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales SET remaining_amount=$2, updated_at=now() WHERE id=$1`, saleID, remaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sale %d", shared.ErrNotFound, saleID)
	}
	return nil
}
