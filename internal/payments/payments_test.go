package payments_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/timberline-erp/timberline/internal/payments"
	"github.com/timberline-erp/timberline/internal/shared"
)

type memoryRepo struct {
	mu sync.Mutex

	nextID   int64
	balances map[int64]payments.SaleBalance
	rows     []payments.Payment
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, balances: make(map[int64]payments.SaleBalance)}
}

func (r *memoryRepo) seed(saleID int64, total int64) {
	amount := decimal.NewFromInt(total)
	r.balances[saleID] = payments.SaleBalance{SaleID: saleID, Total: amount, Remaining: amount}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, payments.TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) ListPayments(ctx context.Context, saleID int64) ([]payments.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []payments.Payment
	for _, p := range r.rows {
		if p.SaleID == saleID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetSaleBalance(ctx context.Context, saleID int64) (payments.SaleBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bal, ok := r.balances[saleID]
	if !ok {
		return payments.SaleBalance{}, fmt.Errorf("%w: sale %d", shared.ErrNotFound, saleID)
	}
	return bal, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) GetSaleBalanceForUpdate(ctx context.Context, saleID int64) (payments.SaleBalance, error) {
	return tx.repo.GetSaleBalance(ctx, saleID)
}

func (tx *memoryTx) InsertPayment(ctx context.Context, p payments.Payment) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.nextID
	r.nextID++
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now()
	}
	r.rows = append(r.rows, p)
	return p.ID, nil
}

func (tx *memoryTx) UpdateRemaining(ctx context.Context, saleID int64, remaining decimal.Decimal) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	bal, ok := r.balances[saleID]
	if !ok {
		return fmt.Errorf("%w: sale %d", shared.ErrNotFound, saleID)
	}
	bal.Remaining = remaining
	r.balances[saleID] = bal
	return nil
}

type memoryIdem struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryIdem() *memoryIdem {
	return &memoryIdem{keys: make(map[string]bool)}
}

func (s *memoryIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *memoryIdem) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

func TestRecordPayment(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(1, 1000)
	svc := payments.NewService(repo, nil, nil, nil)
	ctx := context.Background()

	p, err := svc.Record(ctx, payments.RecordInput{SaleID: 1, Amount: decimal.NewFromInt(400), Method: "cash"})
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(400).Equal(p.Amount))
	require.NotEmpty(t, p.Receipt)

	bal, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(600).Equal(bal.Remaining))

	list, err := svc.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRecordPaymentRejectsOverpayment(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(1, 500)
	svc := payments.NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Record(ctx, payments.RecordInput{SaleID: 1, Amount: decimal.NewFromInt(600)})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.Record(ctx, payments.RecordInput{SaleID: 1, Amount: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.Record(ctx, payments.RecordInput{SaleID: 2, Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordPaymentIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(1, 1000)
	idem := newMemoryIdem()
	svc := payments.NewService(repo, idem, nil, nil)
	ctx := context.Background()

	_, err := svc.Record(ctx, payments.RecordInput{SaleID: 1, Amount: decimal.NewFromInt(200), IdempotencyKey: "pay-1"})
	require.NoError(t, err)

	_, err = svc.Record(ctx, payments.RecordInput{SaleID: 1, Amount: decimal.NewFromInt(200), IdempotencyKey: "pay-1"})
	require.ErrorIs(t, err, shared.ErrDuplicateOperation)

	list, err := svc.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)

	bal, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(800).Equal(bal.Remaining))
}

func TestRecordPaymentFailureReleasesIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(1, 100)
	idem := newMemoryIdem()
	svc := payments.NewService(repo, idem, nil, nil)
	ctx := context.Background()

	_, err := svc.Record(ctx, payments.RecordInput{SaleID: 1, Amount: decimal.NewFromInt(500), IdempotencyKey: "pay-2"})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	// The key must be reusable after the rejected attempt.
	_, err = svc.Record(ctx, payments.RecordInput{SaleID: 1, Amount: decimal.NewFromInt(50), IdempotencyKey: "pay-2"})
	require.NoError(t, err)
}
