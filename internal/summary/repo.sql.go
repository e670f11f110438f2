package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timberline-erp/timberline/internal/shared"
)

// Repository runs the projection queries against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TodayTotals aggregates one day of movements, deliveries and payments.
func (r *Repository) TodayTotals(ctx context.Context, day time.Time) (Totals, error) {
	totals := Totals{Day: day}
	err := r.pool.QueryRow(ctx, `SELECT
  COALESCE((SELECT SUM(qty) FROM stock_movements WHERE mv_type='RESERVE' AND posted_at::date = $1::date), 0),
  COALESCE((SELECT SUM(l.quantity) FROM delivery_challan_lines l
     JOIN delivery_challans c ON c.id = l.challan_id WHERE c.pushed_at::date = $1::date), 0),
  COALESCE((SELECT SUM(qty) FROM stock_movements
     WHERE mv_type='IN_STORE' AND qty > 0 AND ref_module='delivery' AND posted_at::date = $1::date), 0),
  COALESCE((SELECT COUNT(*) FROM sales WHERE created_at::date = $1::date), 0),
  COALESCE((SELECT SUM(amount) FROM sale_payments WHERE received_at::date = $1::date), 0)`,
		day).Scan(&totals.UnitsReserved, &totals.UnitsDelivered, &totals.UnitsReturned,
		&totals.SalesBooked, &totals.PaymentsTotal)
	if err != nil {
		return Totals{}, fmt.Errorf("today totals: %w", err)
	}
	return totals, nil
}

// ProductBalances returns the current counters of every product unit.
func (r *Repository) ProductBalances(ctx context.Context) ([]ProductBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT u.product_id,
  CASE WHEN u.required_qty > 0 THEN u.id ELSE 0 END,
  p.code, COALESCE(NULLIF(u.name, ''), p.name), u.quantity, u.in_store, u.sales, u.balance
FROM product_units u JOIN products p ON p.id = u.product_id
ORDER BY u.product_id, u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProductBalance
	for rows.Next() {
		var b ProductBalance
		if err := rows.Scan(&b.ProductID, &b.SubProductID, &b.Code, &b.Name,
			&b.Quantity, &b.InStore, &b.Sales, &b.Balance); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertSnapshot persists one immutable daily snapshot row.
func (r *Repository) InsertSnapshot(ctx context.Context, snap Snapshot) (int64, error) {
	payload, err := json.Marshal(snap.Totals)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.pool.QueryRow(ctx, `INSERT INTO daily_snapshots (day, totals, report, created_at)
VALUES ($1::date, $2, $3, now()) RETURNING id`, snap.Day, payload, snap.Report).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// GetSnapshot returns the snapshot for a day.
func (r *Repository) GetSnapshot(ctx context.Context, day time.Time) (Snapshot, error) {
	snap, err := scanSnapshot(r.pool.QueryRow(ctx,
		`SELECT id, day, totals, report, created_at FROM daily_snapshots WHERE day = $1::date`, day))
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: snapshot for %s", shared.ErrNotFound, day.Format("2006-01-02"))
	}
	return snap, err
}

// ListSnapshots returns recent snapshots, newest first.
func (r *Repository) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, day, totals, report, created_at FROM daily_snapshots ORDER BY day DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var snap Snapshot
	var payload []byte
	if err := row.Scan(&snap.ID, &snap.Day, &payload, &snap.Report, &snap.CreatedAt); err != nil {
		return Snapshot{}, err
	}
	if err := json.Unmarshal(payload, &snap.Totals); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
