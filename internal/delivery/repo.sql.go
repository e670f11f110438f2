package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timberline-erp/timberline/internal/ledger"
	"github.com/timberline-erp/timberline/internal/platform/db"
	"github.com/timberline-erp/timberline/internal/shared"
)

// Repository persists delivery data in PostgreSQL.
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
		return errors.New("delivery repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// NewTxRepository binds delivery persistence to an externally managed
// transaction; the sale booking and edit repositories use this.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// GetBySale loads a sale's delivery with its lines.
func (r *Repository) GetBySale(ctx context.Context, saleID int64) (Delivery, error) {
	return loadDelivery(ctx, r.pool, saleID, "")
}

// ListChallans returns the push log for a sale, oldest first.
func (r *Repository) ListChallans(ctx context.Context, saleID int64) ([]Challan, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.id, c.delivery_id, c.code, c.pushed_at
FROM delivery_challans c JOIN deliveries d ON d.id = c.delivery_id
WHERE d.sale_id=$1 ORDER BY c.id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Challan
	for rows.Next() {
		var c Challan
		if err := rows.Scan(&c.ID, &c.DeliveryID, &c.Code, &c.PushedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		lines, err := r.pool.Query(ctx, `SELECT product_id, sub_product_id, quantity
FROM delivery_challan_lines WHERE challan_id=$1 ORDER BY product_id, sub_product_id`, out[i].ID)
		if err != nil {
			return nil, err
		}
		for lines.Next() {
			var l ChallanLine
			if err := lines.Scan(&l.ProductID, &l.SubProductID, &l.Quantity); err != nil {
				lines.Close()
				return nil, err
			}
			out[i].Lines = append(out[i].Lines, l)
		}
		lines.Close()
		if err := lines.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListReturns returns the return records for a sale.
func (r *Repository) ListReturns(ctx context.Context, saleID int64) ([]Return, error) {
	return scanReturns(ctx, r.pool, saleID, "")
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadDelivery(ctx context.Context, q querier, saleID int64, suffix string) (Delivery, error) {
	var d Delivery
	err := q.QueryRow(ctx, `SELECT id, sale_id, status, created_at, updated_at FROM deliveries WHERE sale_id=$1`+suffix, saleID).
		Scan(&d.ID, &d.SaleID, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, fmt.Errorf("%w: delivery for sale %d", shared.ErrNotFound, saleID)
		}
		return Delivery{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, delivery_id, product_id, sub_product_id, quantity_sold, quantity_delivered, quantity_remaining, fully_delivered
FROM delivery_lines WHERE delivery_id=$1 ORDER BY id ASC`, d.ID)
	if err != nil {
		return Delivery{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.DeliveryID, &l.ProductID, &l.SubProductID,
			&l.QuantitySold, &l.QuantityDelivered, &l.QuantityRemaining, &l.FullyDelivered); err != nil {
			return Delivery{}, err
		}
		d.Lines = append(d.Lines, l)
	}
	return d, rows.Err()
}

func scanReturns(ctx context.Context, q querier, saleID int64, suffix string) ([]Return, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, product_id, sub_product_id, quantity_returned, received, updated_at
FROM sale_returns WHERE sale_id=$1 ORDER BY id ASC`+suffix, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Return
	for rows.Next() {
		var r Return
		if err := rows.Scan(&r.ID, &r.SaleID, &r.ProductID, &r.SubProductID, &r.QuantityReturned, &r.Received, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return ledger.NewTxRepository(r.tx)
}

func (r *txRepository) InsertDelivery(ctx context.Context, d Delivery) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO deliveries (sale_id, status, created_at, updated_at)
VALUES ($1, $2, now(), now()) RETURNING id`, d.SaleID, d.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert delivery: %w", err)
	}
	for _, l := range d.Lines {
		if err := r.saveLine(ctx, id, l); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (r *txRepository) GetBySaleForUpdate(ctx context.Context, saleID int64) (Delivery, error) {
	return loadDelivery(ctx, r.tx, saleID, " FOR UPDATE")
}

func (r *txRepository) SaveLines(ctx context.Context, deliveryID int64, lines []Line) error {
	for _, l := range lines {
		if err := r.saveLine(ctx, deliveryID, l); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) saveLine(ctx context.Context, deliveryID int64, l Line) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO delivery_lines
  (delivery_id, product_id, sub_product_id, quantity_sold, quantity_delivered, quantity_remaining, fully_delivered)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (delivery_id, product_id, sub_product_id) DO UPDATE SET
  quantity_sold = EXCLUDED.quantity_sold,
  quantity_delivered = EXCLUDED.quantity_delivered,
  quantity_remaining = EXCLUDED.quantity_remaining,
  fully_delivered = EXCLUDED.fully_delivered`,
		deliveryID, l.ProductID, l.SubProductID, l.QuantitySold, l.QuantityDelivered, l.QuantityRemaining, l.FullyDelivered)
	if err != nil {
		return fmt.Errorf("save delivery line: %w", err)
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, deliveryID int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE deliveries SET status=$2, updated_at=now() WHERE id=$1`, deliveryID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: delivery %d", shared.ErrNotFound, deliveryID)
	}
	return nil
}

func (r *txRepository) InsertChallan(ctx context.Context, ch Challan) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO delivery_challans (delivery_id, code, pushed_at)
VALUES ($1, $2, $3) RETURNING id`, ch.DeliveryID, ch.Code, ch.PushedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert challan: %w", err)
	}
	for _, l := range ch.Lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO delivery_challan_lines (challan_id, product_id, sub_product_id, quantity)
VALUES ($1, $2, $3, $4)`, id, l.ProductID, l.SubProductID, l.Quantity); err != nil {
			return 0, fmt.Errorf("insert challan line: %w", err)
		}
	}
	return id, nil
}

func (r *txRepository) CountChallansForDay(ctx context.Context, day time.Time) (int64, error) {
	var n int64
	err := r.tx.QueryRow(ctx, `SELECT count(*) FROM delivery_challans WHERE pushed_at::date = $1::date`, day).Scan(&n)
	return n, err
}

func (r *txRepository) ListReturnsForUpdate(ctx context.Context, saleID int64) ([]Return, error) {
	return scanReturns(ctx, r.tx, saleID, " FOR UPDATE")
}

func (r *txRepository) UpsertReturn(ctx context.Context, ret Return) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO sale_returns (sale_id, product_id, sub_product_id, quantity_returned, received, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (sale_id, product_id, sub_product_id) DO UPDATE SET
  quantity_returned = EXCLUDED.quantity_returned,
  received = EXCLUDED.received,
  updated_at = now()`,
		ret.SaleID, ret.ProductID, ret.SubProductID, ret.QuantityReturned, ret.Received)
	if err != nil {
		return fmt.Errorf("upsert return: %w", err)
	}
	return nil
}

func (r *txRepository) OnOrderPresent(ctx context.Context, saleID int64) (bool, error) {
	var present bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM kept_on_order WHERE sale_id=$1 AND quantity > 0)`, saleID).Scan(&present)
	return present, err
}
