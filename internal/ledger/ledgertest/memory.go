// Package ledgertest provides an in-memory ledger repository for service
// tests across the stock-facing packages.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/timberline-erp/timberline/internal/ledger"
	"github.com/timberline-erp/timberline/internal/shared"
)

// MemoryRepo implements ledger.RepositoryPort and hands out transaction views
// over the same maps. Good enough for single-goroutine service tests.
type MemoryRepo struct {
	mu        sync.Mutex
	products  map[int64]ledger.Product
	units     map[int64]*ledger.Unit
	reports   map[int64]ledger.BrokenSetReport
	Movements []ledger.Movement

	nextProductID int64
	nextUnitID    int64
}

// NewMemoryRepo constructs an empty repo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		products: make(map[int64]ledger.Product),
		units:    make(map[int64]*ledger.Unit),
		reports:  make(map[int64]ledger.BrokenSetReport),
	}
}

// WithTx runs fn against the shared state.
func (r *MemoryRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return fn(ctx, r.Tx())
}

// Tx returns a transaction view bound to this repo, for embedding into other
// packages' repository fakes.
func (r *MemoryRepo) Tx() ledger.TxRepository {
	return &memoryTx{repo: r}
}

// AddIndividual seeds an individual product and returns its id.
func (r *MemoryRepo) AddIndividual(code string, qty int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextProductID++
	id := r.nextProductID
	r.products[id] = ledger.Product{ID: id, Code: code, Name: code, Kind: ledger.KindIndividual, CreatedAt: time.Now()}
	r.nextUnitID++
	r.units[r.nextUnitID] = &ledger.Unit{ID: r.nextUnitID, ProductID: id, Quantity: qty, InStore: qty, Balance: qty}
	return id
}

// Sub describes one sub-product seed.
type Sub struct {
	Name        string
	RequiredQty int64
	Quantity    int64
}

// AddSet seeds a set product and returns its id plus sub-product unit ids in
// seed order.
func (r *MemoryRepo) AddSet(code string, subs ...Sub) (int64, []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextProductID++
	id := r.nextProductID
	r.products[id] = ledger.Product{ID: id, Code: code, Name: code, Kind: ledger.KindSet, CreatedAt: time.Now()}
	subIDs := make([]int64, 0, len(subs))
	for _, sub := range subs {
		r.nextUnitID++
		r.units[r.nextUnitID] = &ledger.Unit{
			ID: r.nextUnitID, ProductID: id, Name: sub.Name,
			RequiredQty: sub.RequiredQty, Quantity: sub.Quantity, InStore: sub.Quantity, Balance: sub.Quantity,
		}
		subIDs = append(subIDs, r.nextUnitID)
	}
	return id, subIDs
}

// Unit returns a copy of the unit addressed by ref.
func (r *MemoryRepo) Unit(ref ledger.Ref) ledger.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, err := r.lookup(ref)
	if err != nil {
		return ledger.Unit{}
	}
	return *u
}

// GetProduct implements ledger.RepositoryPort.
func (r *MemoryRepo) GetProduct(ctx context.Context, id int64) (ledger.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return ledger.Product{}, fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	p.Units = r.unitsOf(id)
	return p, nil
}

// ListProducts implements ledger.RepositoryPort.
func (r *MemoryRepo) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.products))
	for id := range r.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]ledger.Product, 0, len(ids))
	for _, id := range ids {
		p := r.products[id]
		p.Units = r.unitsOf(id)
		out = append(out, p)
	}
	return out, nil
}

// GetBrokenSetReport implements ledger.RepositoryPort.
func (r *MemoryRepo) GetBrokenSetReport(ctx context.Context, productID int64) (ledger.BrokenSetReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[productID]
	if !ok {
		return ledger.BrokenSetReport{}, fmt.Errorf("%w: broken set report for product %d", shared.ErrNotFound, productID)
	}
	return report, nil
}

func (r *MemoryRepo) unitsOf(productID int64) []ledger.Unit {
	var units []ledger.Unit
	for _, u := range r.units {
		if u.ProductID == productID {
			units = append(units, *u)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units
}

func (r *MemoryRepo) lookup(ref ledger.Ref) (*ledger.Unit, error) {
	if ref.SubProductID > 0 {
		u, ok := r.units[ref.SubProductID]
		if !ok || u.ProductID != ref.ProductID {
			return nil, fmt.Errorf("%w: sub-product %d of product %d", shared.ErrNotFound, ref.SubProductID, ref.ProductID)
		}
		return u, nil
	}
	var found *ledger.Unit
	count := 0
	for _, u := range r.units {
		if u.ProductID == ref.ProductID {
			found = u
			count++
		}
	}
	switch count {
	case 0:
		return nil, fmt.Errorf("%w: product %d", shared.ErrNotFound, ref.ProductID)
	case 1:
		return found, nil
	default:
		return nil, ledger.ErrSubProductRequired
	}
}

type memoryTx struct {
	repo *MemoryRepo
}

func (tx *memoryTx) InsertProduct(ctx context.Context, p ledger.Product) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextProductID++
	p.ID = tx.repo.nextProductID
	p.Units = nil
	tx.repo.products[p.ID] = p
	return p.ID, nil
}

func (tx *memoryTx) InsertUnit(ctx context.Context, u ledger.Unit) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextUnitID++
	u.ID = tx.repo.nextUnitID
	tx.repo.units[u.ID] = &u
	return u.ID, nil
}

func (tx *memoryTx) GetUnitForUpdate(ctx context.Context, ref ledger.Ref) (ledger.Unit, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	u, err := tx.repo.lookup(ref)
	if err != nil {
		return ledger.Unit{}, err
	}
	return *u, nil
}

func (tx *memoryTx) ListSetUnitsForUpdate(ctx context.Context, productID int64) ([]ledger.Unit, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	return tx.repo.unitsOf(productID), nil
}

func (tx *memoryTx) UpdateUnitCounters(ctx context.Context, u ledger.Unit) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	existing, ok := tx.repo.units[u.ID]
	if !ok {
		return fmt.Errorf("%w: unit %d", shared.ErrNotFound, u.ID)
	}
	existing.Quantity = u.Quantity
	existing.InStore = u.InStore
	existing.Sales = u.Sales
	existing.Balance = u.Balance
	existing.UpdatedAt = time.Now()
	return nil
}

func (tx *memoryTx) ReplaceBrokenSetReport(ctx context.Context, report ledger.BrokenSetReport) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.reports[report.ProductID] = report
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m ledger.Movement) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	m.ID = int64(len(tx.repo.Movements) + 1)
	tx.repo.Movements = append(tx.repo.Movements, m)
	return nil
}
