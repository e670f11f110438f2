// Package summary serves the read-only aggregates consumed by the daily
// snapshot job and the dashboard: today's reserved/delivered/returned totals
// and current per-product balances.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/timberline-erp/timberline/internal/shared"
)

// Totals aggregates one day's stock and payment activity.
type Totals struct {
	Day            time.Time       `json:"day"`
	UnitsReserved  int64           `json:"unitsReserved"`
	UnitsDelivered int64           `json:"unitsDelivered"`
	UnitsReturned  int64           `json:"unitsReturned"`
	SalesBooked    int64           `json:"salesBooked"`
	PaymentsTotal  decimal.Decimal `json:"paymentsTotal"`
}

// ProductBalance is the current ledger state of one product or sub-product.
type ProductBalance struct {
	ProductID    int64  `json:"productId"`
	SubProductID int64  `json:"subProductId"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	InStore      int64  `json:"inStore"`
	Sales        int64  `json:"sales"`
	Balance      int64  `json:"balance"`
}

// Snapshot is one immutable persisted daily aggregate.
type Snapshot struct {
	ID        int64     `json:"id"`
	Day       time.Time `json:"day"`
	Totals    Totals    `json:"totals"`
	Report    string    `json:"report"`
	CreatedAt time.Time `json:"createdAt"`
}

// RepositoryPort abstracts the projection queries and snapshot persistence.
type RepositoryPort interface {
	TodayTotals(ctx context.Context, day time.Time) (Totals, error)
	ProductBalances(ctx context.Context) ([]ProductBalance, error)
	InsertSnapshot(ctx context.Context, snap Snapshot) (int64, error)
	GetSnapshot(ctx context.Context, day time.Time) (Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error)
}

// Service computes and persists daily summaries. Concurrent identical reads
// are collapsed through singleflight; the totals and balance projections for
// a snapshot are fetched in parallel.
type Service struct {
	repo    RepositoryPort
	logger  *slog.Logger
	group   singleflight.Group
	printer *message.Printer
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, printer: message.NewPrinter(language.English)}
}

// TodayTotals returns the aggregate activity for the given day.
func (s *Service) TodayTotals(ctx context.Context, day time.Time) (Totals, error) {
	key := "totals:" + day.Format("2006-01-02")
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.repo.TodayTotals(ctx, day)
	})
	if err != nil {
		return Totals{}, err
	}
	return v.(Totals), nil
}

// ProductBalances returns the current balance of every product unit.
func (s *Service) ProductBalances(ctx context.Context) ([]ProductBalance, error) {
	v, err, _ := s.group.Do("balances", func() (any, error) {
		return s.repo.ProductBalances(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]ProductBalance), nil
}

// TakeSnapshot persists the immutable daily aggregate for the given day. A
// day already snapshotted is reported with ErrDuplicateOperation, which the
// scheduled job treats as a clean skip.
func (s *Service) TakeSnapshot(ctx context.Context, day time.Time) (Snapshot, error) {
	if _, err := s.repo.GetSnapshot(ctx, day); err == nil {
		return Snapshot{}, fmt.Errorf("%w: snapshot for %s", shared.ErrDuplicateOperation, day.Format("2006-01-02"))
	}

	var totals Totals
	var balances []ProductBalance
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		totals, err = s.repo.TodayTotals(gctx, day)
		return err
	})
	g.Go(func() error {
		var err error
		balances, err = s.repo.ProductBalances(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Day:    day,
		Totals: totals,
		Report: s.renderReport(day, totals, balances),
	}
	id, err := s.repo.InsertSnapshot(ctx, snap)
	if err != nil {
		return Snapshot{}, err
	}
	snap.ID = id
	if s.logger != nil {
		s.logger.Info("daily snapshot persisted", "day", day.Format("2006-01-02"), "id", id)
	}
	return snap, nil
}

// GetSnapshot returns the persisted snapshot for a day.
func (s *Service) GetSnapshot(ctx context.Context, day time.Time) (Snapshot, error) {
	return s.repo.GetSnapshot(ctx, day)
}

// ListSnapshots returns recent snapshots, newest first.
func (s *Service) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	return s.repo.ListSnapshots(ctx, limit)
}

// renderReport builds the human-readable daily report stored alongside the
// raw totals. The message printer groups digits for the cash figures.
func (s *Service) renderReport(day time.Time, totals Totals, balances []ProductBalance) string {
	var lowStock int
	for _, b := range balances {
		if b.Balance <= 0 {
			lowStock++
		}
	}
	return s.printer.Sprintf(
		"%s: %d sales booked, %d units reserved, %d delivered, %d returned, %v received, %d products out of stock",
		day.Format("2006-01-02"), totals.SalesBooked, totals.UnitsReserved,
		totals.UnitsDelivered, totals.UnitsReturned, totals.PaymentsTotal, lowStock,
	)
}
