// Package deliverytest provides an in-memory delivery repository for tests.
// It layers over ledgertest so a single fake backs a whole booking-to-return
// scenario.
package deliverytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timberline-erp/timberline/internal/delivery"
	"github.com/timberline-erp/timberline/internal/ledger"
	"github.com/timberline-erp/timberline/internal/ledger/ledgertest"
	"github.com/timberline-erp/timberline/internal/shared"
)

// MemoryRepo implements delivery.RepositoryPort in memory.
type MemoryRepo struct {
	mu sync.Mutex

	Stock *ledgertest.MemoryRepo

	nextID     int64
	deliveries map[int64]*delivery.Delivery // by sale id
	challans   []delivery.Challan
	returns    map[returnKey]*delivery.Return
	onOrder    map[int64]int64 // sale id -> outstanding on-order qty
}

type returnKey struct {
	saleID, productID, subProductID int64
}

// NewMemoryRepo builds an empty repo over the given stock fake.
func NewMemoryRepo(stock *ledgertest.MemoryRepo) *MemoryRepo {
	return &MemoryRepo{
		Stock:      stock,
		nextID:     1,
		deliveries: make(map[int64]*delivery.Delivery),
		returns:    make(map[returnKey]*delivery.Return),
		onOrder:    make(map[int64]int64),
	}
}

func (r *MemoryRepo) WithTx(ctx context.Context, fn func(context.Context, delivery.TxRepository) error) error {
	return fn(ctx, r.Tx())
}

// Tx returns the fake bound as a transactional repository, for embedding in
// other packages' fakes.
func (r *MemoryRepo) Tx() delivery.TxRepository {
	return &memoryTx{repo: r}
}

// SetOnOrder records outstanding on-order quantity for a sale.
func (r *MemoryRepo) SetOnOrder(saleID, qty int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOrder[saleID] = qty
}

// Challans returns a copy of the recorded challan log.
func (r *MemoryRepo) Challans() []delivery.Challan {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]delivery.Challan, len(r.challans))
	copy(out, r.challans)
	return out
}

func (r *MemoryRepo) GetBySale(ctx context.Context, saleID int64) (delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getBySale(saleID)
}

func (r *MemoryRepo) getBySale(saleID int64) (delivery.Delivery, error) {
	d, ok := r.deliveries[saleID]
	if !ok {
		return delivery.Delivery{}, fmt.Errorf("%w: delivery for sale %d", shared.ErrNotFound, saleID)
	}
	out := *d
	out.Lines = make([]delivery.Line, len(d.Lines))
	copy(out.Lines, d.Lines)
	return out, nil
}

func (r *MemoryRepo) ListChallans(ctx context.Context, saleID int64) ([]delivery.Challan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[saleID]
	if !ok {
		return nil, fmt.Errorf("%w: delivery for sale %d", shared.ErrNotFound, saleID)
	}
	var out []delivery.Challan
	for _, ch := range r.challans {
		if ch.DeliveryID == d.ID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListReturns(ctx context.Context, saleID int64) ([]delivery.Return, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listReturns(saleID), nil
}

func (r *MemoryRepo) listReturns(saleID int64) []delivery.Return {
	var out []delivery.Return
	for _, ret := range r.returns {
		if ret.SaleID == saleID {
			out = append(out, *ret)
		}
	}
	return out
}

type memoryTx struct {
	repo *MemoryRepo
}

func (tx *memoryTx) Ledger() ledger.TxRepository {
	return tx.repo.Stock.Tx()
}

func (tx *memoryTx) InsertDelivery(ctx context.Context, d delivery.Delivery) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = r.nextID
	r.nextID++
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	for i := range d.Lines {
		d.Lines[i].ID = r.nextID
		r.nextID++
		d.Lines[i].DeliveryID = d.ID
	}
	stored := d
	r.deliveries[d.SaleID] = &stored
	return d.ID, nil
}

func (tx *memoryTx) GetBySaleForUpdate(ctx context.Context, saleID int64) (delivery.Delivery, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getBySale(saleID)
}

func (tx *memoryTx) SaveLines(ctx context.Context, deliveryID int64, lines []delivery.Line) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.deliveries {
		if d.ID != deliveryID {
			continue
		}
	save:
		for _, l := range lines {
			for i := range d.Lines {
				if d.Lines[i].ProductID == l.ProductID && d.Lines[i].SubProductID == l.SubProductID {
					l.ID = d.Lines[i].ID
					l.DeliveryID = deliveryID
					d.Lines[i] = l
					continue save
				}
			}
			l.ID = r.nextID
			r.nextID++
			l.DeliveryID = deliveryID
			d.Lines = append(d.Lines, l)
		}
		return nil
	}
	return fmt.Errorf("%w: delivery %d", shared.ErrNotFound, deliveryID)
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, deliveryID int64, status delivery.Status) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.deliveries {
		if d.ID == deliveryID {
			d.Status = status
			d.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("%w: delivery %d", shared.ErrNotFound, deliveryID)
}

func (tx *memoryTx) InsertChallan(ctx context.Context, ch delivery.Challan) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	ch.ID = r.nextID
	r.nextID++
	r.challans = append(r.challans, ch)
	return ch.ID, nil
}

func (tx *memoryTx) CountChallansForDay(ctx context.Context, day time.Time) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	y, m, d := day.Date()
	var n int64
	for _, ch := range r.challans {
		cy, cm, cd := ch.PushedAt.Date()
		if cy == y && cm == m && cd == d {
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) ListReturnsForUpdate(ctx context.Context, saleID int64) ([]delivery.Return, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listReturns(saleID), nil
}

func (tx *memoryTx) UpsertReturn(ctx context.Context, ret delivery.Return) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	k := returnKey{saleID: ret.SaleID, productID: ret.ProductID, subProductID: ret.SubProductID}
	if existing, ok := r.returns[k]; ok {
		ret.ID = existing.ID
	} else {
		ret.ID = r.nextID
		r.nextID++
	}
	ret.UpdatedAt = time.Now()
	stored := ret
	r.returns[k] = &stored
	return nil
}

func (tx *memoryTx) OnOrderPresent(ctx context.Context, saleID int64) (bool, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onOrder[saleID] > 0, nil
}
