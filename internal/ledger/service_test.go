package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timberline-erp/timberline/internal/ledger"
	"github.com/timberline-erp/timberline/internal/ledger/ledgertest"
	"github.com/timberline-erp/timberline/internal/shared"
)

func newService(t *testing.T, cfg ledger.ServiceConfig) (*ledger.Service, *ledgertest.MemoryRepo) {
	t.Helper()
	repo := ledgertest.NewMemoryRepo()
	return ledger.NewService(repo, nil, cfg), repo
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	svc, repo := newService(t, ledger.ServiceConfig{})
	ctx := context.Background()
	productID := repo.AddIndividual("TABLE-01", 10)
	ref := ledger.Ref{ProductID: productID}

	unit, err := svc.Reserve(ctx, ref, 6, ledger.MovementMeta{RefModule: "test"})
	require.NoError(t, err)
	require.EqualValues(t, 6, unit.Sales)
	require.EqualValues(t, 4, unit.Balance)
	require.EqualValues(t, unit.Quantity-unit.Sales, unit.Balance)

	unit, err = svc.Release(ctx, ref, 6, ledger.MovementMeta{RefModule: "test"})
	require.NoError(t, err)
	require.EqualValues(t, 0, unit.Sales)
	require.EqualValues(t, 10, unit.Balance)
}

func TestReserveInsufficientStock(t *testing.T) {
	svc, repo := newService(t, ledger.ServiceConfig{})
	ctx := context.Background()
	productID := repo.AddIndividual("CHAIR-02", 10)
	ref := ledger.Ref{ProductID: productID}

	_, err := svc.Reserve(ctx, ref, 11, ledger.MovementMeta{})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	unit := repo.Unit(ref)
	require.EqualValues(t, 0, unit.Sales)
	require.EqualValues(t, 10, unit.Balance)
}

func TestReserveUncheckedBooking(t *testing.T) {
	svc, repo := newService(t, ledger.ServiceConfig{AllowUncheckedBooking: true})
	ctx := context.Background()
	productID := repo.AddIndividual("BENCH-03", 2)
	ref := ledger.Ref{ProductID: productID}

	unit, err := svc.Reserve(ctx, ref, 5, ledger.MovementMeta{})
	require.NoError(t, err)
	require.EqualValues(t, -3, unit.Balance)
}

func TestAdjustInStoreFloorsAtZero(t *testing.T) {
	svc, repo := newService(t, ledger.ServiceConfig{})
	ctx := context.Background()
	productID := repo.AddIndividual("SHELF-04", 10)
	ref := ledger.Ref{ProductID: productID}

	unit, err := svc.AdjustInStore(ctx, ref, -25, ledger.MovementMeta{})
	require.NoError(t, err)
	require.EqualValues(t, 0, unit.InStore)
	// balance untouched by physical movement
	require.EqualValues(t, 10, unit.Balance)
}

func TestRestock(t *testing.T) {
	svc, repo := newService(t, ledger.ServiceConfig{})
	ctx := context.Background()
	productID := repo.AddIndividual("DESK-05", 3)
	ref := ledger.Ref{ProductID: productID}

	_, err := svc.Reserve(ctx, ref, 3, ledger.MovementMeta{})
	require.NoError(t, err)

	unit, err := svc.Restock(ctx, ref, 7, ledger.MovementMeta{})
	require.NoError(t, err)
	require.EqualValues(t, 10, unit.Quantity)
	require.EqualValues(t, 10, unit.InStore)
	require.EqualValues(t, 7, unit.Balance)
}

func TestQuantityGuards(t *testing.T) {
	svc, repo := newService(t, ledger.ServiceConfig{})
	ctx := context.Background()
	productID := repo.AddIndividual("STOOL-06", 5)
	ref := ledger.Ref{ProductID: productID}

	_, err := svc.Reserve(ctx, ref, 0, ledger.MovementMeta{})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
	_, err = svc.Release(ctx, ref, -1, ledger.MovementMeta{})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
	_, err = svc.AdjustInStore(ctx, ref, 0, ledger.MovementMeta{})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.Reserve(ctx, ledger.Ref{ProductID: 999}, 1, ledger.MovementMeta{})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSetMutationRefreshesBrokenSet(t *testing.T) {
	svc, repo := newService(t, ledger.ServiceConfig{})
	ctx := context.Background()
	productID, subIDs := repo.AddSet("DINING-SET",
		ledgertest.Sub{Name: "table top", RequiredQty: 2, Quantity: 9},
		ledgertest.Sub{Name: "leg frame", RequiredQty: 1, Quantity: 4},
	)

	// any counter change on a sub-product replaces the report
	unit, err := svc.Restock(ctx, ledger.Ref{ProductID: productID, SubProductID: subIDs[0]}, 1, ledger.MovementMeta{})
	require.NoError(t, err)
	require.EqualValues(t, 10, unit.Balance)

	report, err := svc.GetBrokenSetReport(ctx, productID)
	require.NoError(t, err)
	require.EqualValues(t, 4, report.MaxCompleteSets) // min(floor(10/2), floor(4/1))
	require.Len(t, report.Items, 2)
	require.EqualValues(t, 2, report.Items[0].Leftover)
	require.EqualValues(t, 0, report.Items[1].Leftover)

	// reserving one leg frame drops the assemblable count
	_, err = svc.Reserve(ctx, ledger.Ref{ProductID: productID, SubProductID: subIDs[1]}, 1, ledger.MovementMeta{})
	require.NoError(t, err)

	report, err = svc.GetBrokenSetReport(ctx, productID)
	require.NoError(t, err)
	require.EqualValues(t, 3, report.MaxCompleteSets)
}

func TestSetAddressingRequiresSubProduct(t *testing.T) {
	svc, repo := newService(t, ledger.ServiceConfig{})
	ctx := context.Background()
	productID, _ := repo.AddSet("SOFA-SET",
		ledgertest.Sub{Name: "seat", RequiredQty: 1, Quantity: 5},
		ledgertest.Sub{Name: "arm", RequiredQty: 2, Quantity: 10},
	)

	_, err := svc.Reserve(ctx, ledger.Ref{ProductID: productID}, 1, ledger.MovementMeta{})
	require.ErrorIs(t, err, ledger.ErrSubProductRequired)
}
