package summary_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/timberline-erp/timberline/internal/shared"
	"github.com/timberline-erp/timberline/internal/summary"
)

type memoryRepo struct {
	mu sync.Mutex

	totals    summary.Totals
	balances  []summary.ProductBalance
	snapshots map[string]summary.Snapshot
	nextID    int64

	totalsCalls int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{snapshots: make(map[string]summary.Snapshot), nextID: 1}
}

func (r *memoryRepo) TodayTotals(ctx context.Context, day time.Time) (summary.Totals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalsCalls++
	t := r.totals
	t.Day = day
	return t, nil
}

func (r *memoryRepo) ProductBalances(ctx context.Context) ([]summary.ProductBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances, nil
}

func (r *memoryRepo) InsertSnapshot(ctx context.Context, snap summary.Snapshot) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := snap.Day.Format("2006-01-02")
	if _, ok := r.snapshots[key]; ok {
		return 0, fmt.Errorf("%w: snapshot %s", shared.ErrDuplicateOperation, key)
	}
	snap.ID = r.nextID
	r.nextID++
	snap.CreatedAt = time.Now()
	r.snapshots[key] = snap
	return snap.ID, nil
}

func (r *memoryRepo) GetSnapshot(ctx context.Context, day time.Time) (summary.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[day.Format("2006-01-02")]
	if !ok {
		return summary.Snapshot{}, fmt.Errorf("%w: snapshot", shared.ErrNotFound)
	}
	return snap, nil
}

func (r *memoryRepo) ListSnapshots(ctx context.Context, limit int) ([]summary.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []summary.Snapshot
	for _, s := range r.snapshots {
		out = append(out, s)
	}
	return out, nil
}

func TestTakeSnapshot(t *testing.T) {
	repo := newMemoryRepo()
	repo.totals = summary.Totals{
		UnitsReserved:  12,
		UnitsDelivered: 7,
		UnitsReturned:  1,
		SalesBooked:    3,
		PaymentsTotal:  decimal.NewFromInt(45000),
	}
	repo.balances = []summary.ProductBalance{
		{ProductID: 1, Code: "TABLE-01", Balance: 4},
		{ProductID: 2, Code: "BED-01", Balance: 0},
	}
	svc := summary.NewService(repo, nil)
	ctx := context.Background()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	snap, err := svc.TakeSnapshot(ctx, day)
	require.NoError(t, err)
	require.EqualValues(t, 12, snap.Totals.UnitsReserved)
	require.Contains(t, snap.Report, "2026-08-29")
	require.Contains(t, snap.Report, "1 products out of stock")

	// a second run for the same day is a duplicate
	_, err = svc.TakeSnapshot(ctx, day)
	require.ErrorIs(t, err, shared.ErrDuplicateOperation)

	got, err := svc.GetSnapshot(ctx, day)
	require.NoError(t, err)
	require.Equal(t, snap.ID, got.ID)
}

func TestTodayTotalsSingleflight(t *testing.T) {
	repo := newMemoryRepo()
	svc := summary.NewService(repo, nil)
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	totals, err := svc.TodayTotals(context.Background(), day)
	require.NoError(t, err)
	require.Equal(t, day, totals.Day)
	require.Equal(t, 1, repo.totalsCalls)
}
