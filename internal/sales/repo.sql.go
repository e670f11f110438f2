package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/timberline-erp/timberline/internal/delivery"
	"github.com/timberline-erp/timberline/internal/ledger"
	"github.com/timberline-erp/timberline/internal/platform/db"
	"github.com/timberline-erp/timberline/internal/shared"
)

// Repository persists sales in PostgreSQL.
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
		return errors.New("sales repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const saleColumns = `id, code, customer_name, customer_phone, customer_address, no_delivery,
billing_amount, total_booking_amount, advance_received, remaining_amount, created_at, updated_at`

// GetSale loads a sale with its lines and on-order rows.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	return loadSale(ctx, r.pool, id, "")
}

// ListSales returns all sales without their line detail, newest first.
func (r *Repository) ListSales(ctx context.Context) ([]Sale, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListEditLogs returns the edit history for a sale, oldest first.
func (r *Repository) ListEditLogs(ctx context.Context, saleID int64) ([]EditLog, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, field, before_value, after_value, actor_id, changed_at
FROM sale_edit_logs WHERE sale_id=$1 ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EditLog
	for rows.Next() {
		var l EditLog
		if err := rows.Scan(&l.ID, &l.SaleID, &l.Field, &l.Before, &l.After, &l.ActorID, &l.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.Code, &s.CustomerName, &s.CustomerPhone, &s.CustomerAddress, &s.NoDelivery,
		&s.BillingAmount, &s.TotalBooking, &s.AdvanceReceived, &s.Remaining, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func loadSale(ctx context.Context, q querier, id int64, suffix string) (Sale, error) {
	s, err := scanSale(q.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`+suffix, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, fmt.Errorf("%w: sale %d", shared.ErrNotFound, id)
		}
		return Sale{}, err
	}

	rows, err := q.Query(ctx, `SELECT id, sale_id, product_id, sub_product_id, quantity_sold, balance_snapshot
FROM sale_lines WHERE sale_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Sale{}, err
	}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.SubProductID, &l.QuantitySold, &l.BalanceSnapshot); err != nil {
			rows.Close()
			return Sale{}, err
		}
		s.Lines = append(s.Lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Sale{}, err
	}

	rows, err = q.Query(ctx, `SELECT id, sale_id, product_id, sub_product_id, quantity
FROM kept_on_order WHERE sale_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var o OnOrderLine
		if err := rows.Scan(&o.ID, &o.SaleID, &o.ProductID, &o.SubProductID, &o.Quantity); err != nil {
			return Sale{}, err
		}
		s.OnOrder = append(s.OnOrder, o)
	}
	return s, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return ledger.NewTxRepository(r.tx)
}

func (r *txRepository) Delivery() delivery.TxRepository {
	return delivery.NewTxRepository(r.tx)
}

func (r *txRepository) CountSalesForDay(ctx context.Context, day time.Time) (int64, error) {
	var n int64
	err := r.tx.QueryRow(ctx, `SELECT count(*) FROM sales WHERE created_at::date = $1::date`, day).Scan(&n)
	return n, err
}

func (r *txRepository) InsertSale(ctx context.Context, s Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales
  (code, customer_name, customer_phone, customer_address, no_delivery,
   billing_amount, total_booking_amount, advance_received, remaining_amount, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now()) RETURNING id`,
		s.Code, s.CustomerName, s.CustomerPhone, s.CustomerAddress, s.NoDelivery,
		s.BillingAmount, s.TotalBooking, s.AdvanceReceived, s.Remaining).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert sale: %w", err)
	}
	return id, nil
}

func (r *txRepository) UpdateSaleHeader(ctx context.Context, s Sale) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales SET
  customer_name=$2, customer_phone=$3, customer_address=$4, no_delivery=$5,
  billing_amount=$6, total_booking_amount=$7, advance_received=$8, remaining_amount=$9, updated_at=now()
WHERE id=$1`,
		s.ID, s.CustomerName, s.CustomerPhone, s.CustomerAddress, s.NoDelivery,
		s.BillingAmount, s.TotalBooking, s.AdvanceReceived, s.Remaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sale %d", shared.ErrNotFound, s.ID)
	}
	return nil
}

func (r *txRepository) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	return loadSale(ctx, r.tx, id, " FOR UPDATE")
}

func (r *txRepository) ReplaceLines(ctx context.Context, saleID int64, lines []Line) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM sale_lines WHERE sale_id=$1`, saleID); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO sale_lines (sale_id, product_id, sub_product_id, quantity_sold, balance_snapshot)
VALUES ($1, $2, $3, $4, $5)`, saleID, l.ProductID, l.SubProductID, l.QuantitySold, l.BalanceSnapshot); err != nil {
			return fmt.Errorf("insert sale line: %w", err)
		}
	}
	return nil
}

func (r *txRepository) ReplaceOnOrder(ctx context.Context, saleID int64, rows []OnOrderLine) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM kept_on_order WHERE sale_id=$1`, saleID); err != nil {
		return err
	}
	for _, o := range rows {
		if _, err := r.tx.Exec(ctx, `INSERT INTO kept_on_order (sale_id, product_id, sub_product_id, quantity)
VALUES ($1, $2, $3, $4)`, saleID, o.ProductID, o.SubProductID, o.Quantity); err != nil {
			return fmt.Errorf("insert on-order row: %w", err)
		}
	}
	return nil
}

func (r *txRepository) DeleteSale(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM sales WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sale %d", shared.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) InsertEditLogs(ctx context.Context, logs []EditLog) error {
	for _, l := range logs {
		if _, err := r.tx.Exec(ctx, `INSERT INTO sale_edit_logs (sale_id, field, before_value, after_value, actor_id, changed_at)
VALUES ($1, $2, $3, $4, $5, $6)`, l.SaleID, l.Field, l.Before, l.After, l.ActorID, l.ChangedAt); err != nil {
			return fmt.Errorf("insert edit log: %w", err)
		}
	}
	return nil
}

func (r *txRepository) PaymentsTotal(ctx context.Context, saleID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM sale_payments WHERE sale_id=$1`, saleID).Scan(&total)
	return total, err
}
