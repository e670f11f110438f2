package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timberline-erp/timberline/internal/platform/db"
	"github.com/timberline-erp/timberline/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
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
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// NewTxRepository binds ledger persistence to an externally managed
// transaction. The booking, edit and dispatch repositories use this so the
// stock mutation commits together with their own rows.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// GetProduct loads a product and its counter rows.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, kind, created_at FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.Kind, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
		}
		return Product{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, name, required_qty, quantity, in_store, sales, balance, updated_at
FROM product_units WHERE product_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Product{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.ProductID, &u.Name, &u.RequiredQty, &u.Quantity, &u.InStore, &u.Sales, &u.Balance, &u.UpdatedAt); err != nil {
			return Product{}, err
		}
		p.Units = append(p.Units, u)
	}
	if err := rows.Err(); err != nil {
		return Product{}, err
	}
	return p, nil
}

// ListProducts returns every product with counters.
func (r *Repository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, kind, created_at FROM products ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Kind, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range products {
		unitRows, err := r.pool.Query(ctx, `SELECT id, product_id, name, required_qty, quantity, in_store, sales, balance, updated_at
FROM product_units WHERE product_id=$1 ORDER BY id ASC`, products[i].ID)
		if err != nil {
			return nil, err
		}
		for unitRows.Next() {
			var u Unit
			if err := unitRows.Scan(&u.ID, &u.ProductID, &u.Name, &u.RequiredQty, &u.Quantity, &u.InStore, &u.Sales, &u.Balance, &u.UpdatedAt); err != nil {
				unitRows.Close()
				return nil, err
			}
			products[i].Units = append(products[i].Units, u)
		}
		if err := unitRows.Err(); err != nil {
			unitRows.Close()
			return nil, err
		}
		unitRows.Close()
	}
	return products, nil
}

// GetBrokenSetReport loads the persisted report for a set product.
func (r *Repository) GetBrokenSetReport(ctx context.Context, productID int64) (BrokenSetReport, error) {
	var report BrokenSetReport
	err := r.pool.QueryRow(ctx, `SELECT product_id, max_complete_sets, target_sets, computed_at FROM broken_set_reports WHERE product_id=$1`, productID).
		Scan(&report.ProductID, &report.MaxCompleteSets, &report.TargetSets, &report.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BrokenSetReport{}, fmt.Errorf("%w: broken set report for product %d", shared.ErrNotFound, productID)
		}
		return BrokenSetReport{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT sub_product_id, name, required_qty, balance, leftover, shortfall
FROM broken_set_items WHERE product_id=$1 ORDER BY sub_product_id ASC`, productID)
	if err != nil {
		return BrokenSetReport{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item BrokenSetItem
		if err := rows.Scan(&item.SubProductID, &item.Name, &item.RequiredQty, &item.Balance, &item.Leftover, &item.Shortfall); err != nil {
			return BrokenSetReport{}, err
		}
		report.Items = append(report.Items, item)
	}
	if err := rows.Err(); err != nil {
		return BrokenSetReport{}, err
	}
	return report, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertProduct(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO products (code, name, kind, created_at) VALUES ($1,$2,$3,$4) RETURNING id`,
		p.Code, p.Name, string(p.Kind), p.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertUnit(ctx context.Context, u Unit) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO product_units (product_id, name, required_qty, quantity, in_store, sales, balance, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		u.ProductID, u.Name, u.RequiredQty, u.Quantity, u.InStore, u.Sales, u.Balance).Scan(&id)
	return id, err
}

func (r *txRepository) GetUnitForUpdate(ctx context.Context, ref Ref) (Unit, error) {
	if ref.SubProductID > 0 {
		var u Unit
		err := r.tx.QueryRow(ctx, `SELECT id, product_id, name, required_qty, quantity, in_store, sales, balance, updated_at
FROM product_units WHERE id=$1 AND product_id=$2 FOR UPDATE`, ref.SubProductID, ref.ProductID).
			Scan(&u.ID, &u.ProductID, &u.Name, &u.RequiredQty, &u.Quantity, &u.InStore, &u.Sales, &u.Balance, &u.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Unit{}, fmt.Errorf("%w: sub-product %d of product %d", shared.ErrNotFound, ref.SubProductID, ref.ProductID)
			}
			return Unit{}, err
		}
		return u, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, name, required_qty, quantity, in_store, sales, balance, updated_at
FROM product_units WHERE product_id=$1 ORDER BY id ASC FOR UPDATE`, ref.ProductID)
	if err != nil {
		return Unit{}, err
	}
	defer rows.Close()
	units := []Unit{}
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.ProductID, &u.Name, &u.RequiredQty, &u.Quantity, &u.InStore, &u.Sales, &u.Balance, &u.UpdatedAt); err != nil {
			return Unit{}, err
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return Unit{}, err
	}
	switch len(units) {
	case 0:
		return Unit{}, fmt.Errorf("%w: product %d", shared.ErrNotFound, ref.ProductID)
	case 1:
		return units[0], nil
	default:
		return Unit{}, ErrSubProductRequired
	}
}

func (r *txRepository) ListSetUnitsForUpdate(ctx context.Context, productID int64) ([]Unit, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, name, required_qty, quantity, in_store, sales, balance, updated_at
FROM product_units WHERE product_id=$1 ORDER BY id ASC FOR UPDATE`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	units := []Unit{}
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.ProductID, &u.Name, &u.RequiredQty, &u.Quantity, &u.InStore, &u.Sales, &u.Balance, &u.UpdatedAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return units, nil
}

func (r *txRepository) UpdateUnitCounters(ctx context.Context, u Unit) error {
	tag, err := r.tx.Exec(ctx, `UPDATE product_units SET quantity=$1, in_store=$2, sales=$3, balance=$4, updated_at=NOW() WHERE id=$5`,
		u.Quantity, u.InStore, u.Sales, u.Balance, u.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: unit %d", shared.ErrNotFound, u.ID)
	}
	return nil
}

func (r *txRepository) ReplaceBrokenSetReport(ctx context.Context, report BrokenSetReport) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM broken_set_items WHERE product_id=$1`, report.ProductID); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO broken_set_reports (product_id, max_complete_sets, target_sets, computed_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (product_id) DO UPDATE SET max_complete_sets=EXCLUDED.max_complete_sets, target_sets=EXCLUDED.target_sets, computed_at=EXCLUDED.computed_at`,
		report.ProductID, report.MaxCompleteSets, report.TargetSets, report.ComputedAt)
	if err != nil {
		return err
	}
	for _, item := range report.Items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO broken_set_items (product_id, sub_product_id, name, required_qty, balance, leftover, shortfall)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			report.ProductID, item.SubProductID, item.Name, item.RequiredQty, item.Balance, item.Leftover, item.Shortfall); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_movements (product_id, sub_product_id, mv_type, qty, ref_module, ref_id, note, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ProductID, nullInt(m.SubProductID), string(m.Type), m.Qty, m.RefModule, nullStr(m.RefID), m.Note, m.PostedAt)
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}
