package interstore

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

// Repository persists inter-store data in PostgreSQL.
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
		return errors.New("interstore repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `id, store_name, product_id, sub_product_id, decided_qty, dispatched_qty, remaining_qty, created_at, updated_at`

func scanItem(row pgx.Row) (ImportItem, error) {
	var it ImportItem
	err := row.Scan(&it.ID, &it.StoreName, &it.ProductID, &it.SubProductID,
		&it.Decided, &it.Dispatched, &it.Remaining, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

// GetItem loads one import item.
func (r *Repository) GetItem(ctx context.Context, id int64) (ImportItem, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM import_items WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ImportItem{}, fmt.Errorf("%w: import item %d", shared.ErrNotFound, id)
	}
	return it, err
}

// ListItems returns all import items, newest first.
func (r *Repository) ListItems(ctx context.Context) ([]ImportItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM import_items ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ImportItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListChallans returns an item's dispatch log, oldest first.
func (r *Repository) ListChallans(ctx context.Context, itemID int64) ([]Challan, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, code, quantity, dispatched_at
FROM dispatch_challans WHERE item_id=$1 ORDER BY id ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Challan
	for rows.Next() {
		var ch Challan
		if err := rows.Scan(&ch.ID, &ch.ItemID, &ch.Code, &ch.Quantity, &ch.DispatchedAt); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

const returnColumns = `id, item_id, product_id, sub_product_id, quantity_returned, quantity_received, status, updated_at`

func scanReturn(row pgx.Row) (StoreReturn, error) {
	var ret StoreReturn
	err := row.Scan(&ret.ID, &ret.ItemID, &ret.ProductID, &ret.SubProductID,
		&ret.QuantityReturned, &ret.QuantityReceived, &ret.Status, &ret.UpdatedAt)
	return ret, err
}

// ListReturns returns all store returns, newest first.
func (r *Repository) ListReturns(ctx context.Context) ([]StoreReturn, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+returnColumns+` FROM store_returns ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoreReturn
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return ledger.NewTxRepository(r.tx)
}

func (r *txRepository) InsertItem(ctx context.Context, item ImportItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO import_items
  (store_name, product_id, sub_product_id, decided_qty, dispatched_qty, remaining_qty, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now(), now()) RETURNING id`,
		item.StoreName, item.ProductID, item.SubProductID, item.Decided, item.Dispatched, item.Remaining).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert import item: %w", err)
	}
	return id, nil
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, id int64) (ImportItem, error) {
	it, err := scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM import_items WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ImportItem{}, fmt.Errorf("%w: import item %d", shared.ErrNotFound, id)
	}
	return it, err
}

func (r *txRepository) UpdateItemCounters(ctx context.Context, item ImportItem) error {
	tag, err := r.tx.Exec(ctx, `UPDATE import_items SET decided_qty=$2, dispatched_qty=$3, remaining_qty=$4, updated_at=now()
WHERE id=$1`, item.ID, item.Decided, item.Dispatched, item.Remaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: import item %d", shared.ErrNotFound, item.ID)
	}
	return nil
}

func (r *txRepository) InsertChallan(ctx context.Context, ch Challan) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO dispatch_challans (item_id, code, quantity, dispatched_at)
VALUES ($1, $2, $3, $4) RETURNING id`, ch.ItemID, ch.Code, ch.Quantity, ch.DispatchedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert dispatch challan: %w", err)
	}
	return id, nil
}

func (r *txRepository) CountChallansForDay(ctx context.Context, day time.Time) (int64, error) {
	var n int64
	err := r.tx.QueryRow(ctx, `SELECT count(*) FROM dispatch_challans WHERE dispatched_at::date = $1::date`, day).Scan(&n)
	return n, err
}

func (r *txRepository) GetReturnForUpdate(ctx context.Context, id int64) (StoreReturn, error) {
	ret, err := scanReturn(r.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM store_returns WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return StoreReturn{}, fmt.Errorf("%w: store return %d", shared.ErrNotFound, id)
	}
	return ret, err
}

func (r *txRepository) GetReturnByItemForUpdate(ctx context.Context, itemID int64) (StoreReturn, error) {
	ret, err := scanReturn(r.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM store_returns WHERE item_id=$1 FOR UPDATE`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return StoreReturn{}, fmt.Errorf("%w: store return for item %d", shared.ErrNotFound, itemID)
	}
	return ret, err
}

func (r *txRepository) UpsertReturn(ctx context.Context, ret StoreReturn) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO store_returns
  (item_id, product_id, sub_product_id, quantity_returned, quantity_received, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (item_id) DO UPDATE SET
  quantity_returned = EXCLUDED.quantity_returned,
  quantity_received = EXCLUDED.quantity_received,
  status = EXCLUDED.status,
  updated_at = now()
RETURNING id`,
		ret.ItemID, ret.ProductID, ret.SubProductID, ret.QuantityReturned, ret.QuantityReceived, ret.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert store return: %w", err)
	}
	return id, nil
}
