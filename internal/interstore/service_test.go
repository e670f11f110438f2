package interstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timberline-erp/timberline/internal/interstore"
	"github.com/timberline-erp/timberline/internal/ledger"
	"github.com/timberline-erp/timberline/internal/ledger/ledgertest"
	"github.com/timberline-erp/timberline/internal/shared"
)

type memoryRepo struct {
	mu sync.Mutex

	stock *ledgertest.MemoryRepo

	nextID   int64
	items    map[int64]*interstore.ImportItem
	challans []interstore.Challan
	returns  map[int64]*interstore.StoreReturn // by item id

	returnErr error // forced failure for GetReturnByItemForUpdate
}

func newMemoryRepo(stock *ledgertest.MemoryRepo) *memoryRepo {
	return &memoryRepo{
		stock:   stock,
		nextID:  1,
		items:   make(map[int64]*interstore.ImportItem),
		returns: make(map[int64]*interstore.StoreReturn),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, interstore.TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (interstore.ImportItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return interstore.ImportItem{}, fmt.Errorf("%w: import item %d", shared.ErrNotFound, id)
	}
	return *it, nil
}

func (r *memoryRepo) ListItems(ctx context.Context) ([]interstore.ImportItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interstore.ImportItem
	for _, it := range r.items {
		out = append(out, *it)
	}
	return out, nil
}

func (r *memoryRepo) ListChallans(ctx context.Context, itemID int64) ([]interstore.Challan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interstore.Challan
	for _, ch := range r.challans {
		if ch.ItemID == itemID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListReturns(ctx context.Context) ([]interstore.StoreReturn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interstore.StoreReturn
	for _, ret := range r.returns {
		out = append(out, *ret)
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) Ledger() ledger.TxRepository { return tx.repo.stock.Tx() }

func (tx *memoryTx) InsertItem(ctx context.Context, item interstore.ImportItem) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	item.ID = r.nextID
	r.nextID++
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	stored := item
	r.items[item.ID] = &stored
	return item.ID, nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, id int64) (interstore.ImportItem, error) {
	return tx.repo.GetItem(ctx, id)
}

func (tx *memoryTx) UpdateItemCounters(ctx context.Context, item interstore.ImportItem) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[item.ID]
	if !ok {
		return fmt.Errorf("%w: import item %d", shared.ErrNotFound, item.ID)
	}
	existing.Decided = item.Decided
	existing.Dispatched = item.Dispatched
	existing.Remaining = item.Remaining
	existing.UpdatedAt = time.Now()
	return nil
}

func (tx *memoryTx) InsertChallan(ctx context.Context, ch interstore.Challan) (int64, error) {
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
		cy, cm, cd := ch.DispatchedAt.Date()
		if cy == y && cm == m && cd == d {
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) GetReturnForUpdate(ctx context.Context, id int64) (interstore.StoreReturn, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ret := range r.returns {
		if ret.ID == id {
			return *ret, nil
		}
	}
	return interstore.StoreReturn{}, fmt.Errorf("%w: store return %d", shared.ErrNotFound, id)
}

func (tx *memoryTx) GetReturnByItemForUpdate(ctx context.Context, itemID int64) (interstore.StoreReturn, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returnErr != nil {
		return interstore.StoreReturn{}, r.returnErr
	}
	if ret, ok := r.returns[itemID]; ok {
		return *ret, nil
	}
	return interstore.StoreReturn{}, fmt.Errorf("%w: store return for item %d", shared.ErrNotFound, itemID)
}

func (tx *memoryTx) UpsertReturn(ctx context.Context, ret interstore.StoreReturn) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.returns[ret.ItemID]; ok {
		ret.ID = existing.ID
	} else {
		ret.ID = r.nextID
		r.nextID++
	}
	ret.UpdatedAt = time.Now()
	stored := ret
	r.returns[ret.ItemID] = &stored
	return ret.ID, nil
}

type fixture struct {
	svc   *interstore.Service
	repo  *memoryRepo
	stock *ledgertest.MemoryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stock := ledgertest.NewMemoryRepo()
	repo := newMemoryRepo(stock)
	svc := interstore.NewService(repo, ledger.NewService(stock, nil, ledger.ServiceConfig{}), nil, nil, nil)
	return &fixture{svc: svc, repo: repo, stock: stock}
}

func TestCreateItemReservesQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.stock.AddIndividual("BED-01", 10)

	item, err := f.svc.CreateItem(ctx, interstore.CreateItemInput{
		StoreName: "Mirpur Branch", ProductID: productID, Decided: 6,
	})
	require.NoError(t, err)
	require.EqualValues(t, 6, item.Decided)
	require.EqualValues(t, 6, item.Remaining)

	unit := f.stock.Unit(ledger.Ref{ProductID: productID})
	require.EqualValues(t, 6, unit.Sales)
	require.EqualValues(t, 4, unit.Balance)

	// quota beyond available balance is rejected
	_, err = f.svc.CreateItem(ctx, interstore.CreateItemInput{
		StoreName: "Mirpur Branch", ProductID: productID, Decided: 5,
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestDispatchWithinQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.stock.AddIndividual("BED-01", 10)
	item, err := f.svc.CreateItem(ctx, interstore.CreateItemInput{
		StoreName: "Mirpur Branch", ProductID: productID, Decided: 6,
	})
	require.NoError(t, err)

	ch, err := f.svc.Dispatch(ctx, item.ID, 4, 0)
	require.NoError(t, err)
	require.Regexp(t, `^CH-\d{8}-0001$`, ch.Code)
	require.EqualValues(t, 4, ch.Quantity)

	item, err = f.svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.EqualValues(t, 4, item.Dispatched)
	require.EqualValues(t, 2, item.Remaining)

	unit := f.stock.Unit(ledger.Ref{ProductID: productID})
	require.EqualValues(t, 6, unit.InStore)
	// dispatch moves physical stock only, the quota reservation is untouched
	require.EqualValues(t, 6, unit.Sales)
}

func TestDispatchExceedsQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.stock.AddIndividual("BED-01", 10)
	item, err := f.svc.CreateItem(ctx, interstore.CreateItemInput{
		StoreName: "Mirpur Branch", ProductID: productID, Decided: 3,
	})
	require.NoError(t, err)

	_, err = f.svc.Dispatch(ctx, item.ID, 4, 0)
	require.ErrorIs(t, err, shared.ErrExceedsQuota)

	item, err = f.svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, item.Dispatched)
	require.EqualValues(t, 10, f.stock.Unit(ledger.Ref{ProductID: productID}).InStore)

	_, err = f.svc.Dispatch(ctx, item.ID, 0, 0)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
}

func TestReviseQuotaBelowDispatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.stock.AddIndividual("BED-01", 10)
	item, err := f.svc.CreateItem(ctx, interstore.CreateItemInput{
		StoreName: "Mirpur Branch", ProductID: productID, Decided: 8,
	})
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, item.ID, 6, 0)
	require.NoError(t, err)

	item, err = f.svc.ReviseQuota(ctx, item.ID, 4, 0)
	require.NoError(t, err)
	require.EqualValues(t, 4, item.Decided)
	require.EqualValues(t, 0, item.Remaining)

	// the reservation follows the quota down
	unit := f.stock.Unit(ledger.Ref{ProductID: productID})
	require.EqualValues(t, 4, unit.Sales)
	require.EqualValues(t, 6, unit.Balance)

	returns, err := f.svc.ListReturns(ctx)
	require.NoError(t, err)
	require.Len(t, returns, 1)
	require.EqualValues(t, 2, returns[0].QuantityReturned)
	require.Equal(t, interstore.ReturnPending, returns[0].Status)
}

func TestReviseQuotaReturnLookupFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.stock.AddIndividual("BED-01", 10)
	item, err := f.svc.CreateItem(ctx, interstore.CreateItemInput{
		StoreName: "Mirpur Branch", ProductID: productID, Decided: 8,
	})
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, item.ID, 6, 0)
	require.NoError(t, err)

	boom := errors.New("connection reset")
	f.repo.returnErr = boom
	_, err = f.svc.ReviseQuota(ctx, item.ID, 4, 0)
	require.ErrorIs(t, err, boom)

	// the failed revision must not mint a return row
	f.repo.returnErr = nil
	returns, err := f.svc.ListReturns(ctx)
	require.NoError(t, err)
	require.Empty(t, returns)

	item, err = f.svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.EqualValues(t, 8, item.Decided)
}

func TestReceiveReturnRestoresInStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.stock.AddIndividual("BED-01", 10)
	item, err := f.svc.CreateItem(ctx, interstore.CreateItemInput{
		StoreName: "Mirpur Branch", ProductID: productID, Decided: 8,
	})
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, item.ID, 6, 0)
	require.NoError(t, err)
	_, err = f.svc.ReviseQuota(ctx, item.ID, 4, 0)
	require.NoError(t, err)

	returns, err := f.svc.ListReturns(ctx)
	require.NoError(t, err)
	require.Len(t, returns, 1)
	retID := returns[0].ID

	ret, err := f.svc.ReceiveReturn(ctx, retID, 1, 0)
	require.NoError(t, err)
	require.Equal(t, interstore.ReturnPartial, ret.Status)
	require.EqualValues(t, 5, f.stock.Unit(ledger.Ref{ProductID: productID}).InStore)

	_, err = f.svc.ReceiveReturn(ctx, retID, 2, 0)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	ret, err = f.svc.ReceiveReturn(ctx, retID, 1, 0)
	require.NoError(t, err)
	require.Equal(t, interstore.ReturnReceived, ret.Status)
	require.EqualValues(t, 6, f.stock.Unit(ledger.Ref{ProductID: productID}).InStore)

	_, err = f.svc.ReceiveReturn(ctx, retID, 1, 0)
	require.ErrorIs(t, err, shared.ErrDuplicateOperation)
}

func TestReviseQuotaUpReservesDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.stock.AddIndividual("BED-01", 10)
	item, err := f.svc.CreateItem(ctx, interstore.CreateItemInput{
		StoreName: "Mirpur Branch", ProductID: productID, Decided: 4,
	})
	require.NoError(t, err)

	item, err = f.svc.ReviseQuota(ctx, item.ID, 7, 0)
	require.NoError(t, err)
	require.EqualValues(t, 7, item.Decided)
	require.EqualValues(t, 7, item.Remaining)
	require.EqualValues(t, 7, f.stock.Unit(ledger.Ref{ProductID: productID}).Sales)

	_, err = f.svc.ReviseQuota(ctx, item.ID, 11, 0)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}
