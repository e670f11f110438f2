// Package payments records customer payments against a sale's remaining
// balance. It is independent of the stock model and only collaborates with
// sales through the remaining-amount column.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/timberline-erp/timberline/internal/shared"
)

// Payment is one received payment against a sale.
type Payment struct {
	ID         int64           `json:"id"`
	SaleID     int64           `json:"saleId"`
	Receipt    string          `json:"receipt"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Note       string          `json:"note"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// SaleBalance is the financial view of a sale needed to accept a payment.
type SaleBalance struct {
	SaleID    int64           `json:"saleId"`
	Total     decimal.Decimal `json:"totalBookingAmount"`
	Remaining decimal.Decimal `json:"remainingAmount"`
}

// TxRepository exposes payment persistence bound to a transaction.
type TxRepository interface {
	GetSaleBalanceForUpdate(ctx context.Context, saleID int64) (SaleBalance, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	UpdateRemaining(ctx context.Context, saleID int64, remaining decimal.Decimal) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListPayments(ctx context.Context, saleID int64) ([]Payment, error)
	GetSaleBalance(ctx context.Context, saleID int64) (SaleBalance, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed payment submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service is the payments and receivables ledger.
type Service struct {
	repo   RepositoryPort
	idem   IdempotencyPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service. A nil idempotency port disables replay
// protection, which single-process tests rely on.
func NewService(repo RepositoryPort, idem IdempotencyPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, idem: idem, audit: audit, logger: logger}
}

// RecordInput is a payment entry.
type RecordInput struct {
	SaleID  int64           `json:"saleId" validate:"required"`
	Amount  decimal.Decimal `json:"amount" validate:"required"`
	Method  string          `json:"method"`
	Note    string          `json:"note"`
	// IdempotencyKey comes from the X-Idempotency-Key header. Resubmitting
	// the same key is a duplicate, not a second payment.
	IdempotencyKey string `json:"-"`
	ActorID        int64  `json:"-"`
}

// Record accepts a payment against a sale and decrements its remaining
// balance. Overpayment is rejected.
func (s *Service) Record(ctx context.Context, input RecordInput) (Payment, error) {
	if !input.Amount.IsPositive() {
		return Payment{}, fmt.Errorf("%w: payment amount %s", shared.ErrInvalidQuantity, input.Amount)
	}
	if s.idem != nil && input.IdempotencyKey != "" {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, "payments"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Payment{}, fmt.Errorf("%w: payment key %s", shared.ErrDuplicateOperation, input.IdempotencyKey)
			}
			return Payment{}, err
		}
	}
	var out Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.GetSaleBalanceForUpdate(ctx, input.SaleID)
		if err != nil {
			return err
		}
		if input.Amount.GreaterThan(bal.Remaining) {
			return fmt.Errorf("%w: amount %s exceeds remaining %s", shared.ErrInvalidQuantity, input.Amount, bal.Remaining)
		}
		p := Payment{
			SaleID:     input.SaleID,
			Receipt:    "RCPT-" + uuid.NewString(),
			Amount:     input.Amount,
			Method:     input.Method,
			Note:       input.Note,
			ReceivedAt: time.Now().UTC(),
		}
		p.ID, err = tx.InsertPayment(ctx, p)
		if err != nil {
			return err
		}
		if err := tx.UpdateRemaining(ctx, input.SaleID, bal.Remaining.Sub(input.Amount)); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		if s.idem != nil && input.IdempotencyKey != "" {
			// Free the key so the client can retry after a real failure.
			if delErr := s.idem.Delete(ctx, input.IdempotencyKey); delErr != nil && s.logger != nil {
				s.logger.Warn("release idempotency key failed", "key", input.IdempotencyKey, "error", delErr)
			}
		}
		return Payment{}, err
	}
	s.record(ctx, input.ActorID, input.SaleID, input.Amount)
	return out, nil
}

// List returns a sale's payments, oldest first.
func (s *Service) List(ctx context.Context, saleID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, saleID)
}

// Balance returns a sale's financial balance.
func (s *Service) Balance(ctx context.Context, saleID int64) (SaleBalance, error) {
	return s.repo.GetSaleBalance(ctx, saleID)
}

func (s *Service) record(ctx context.Context, actorID, saleID int64, amount decimal.Decimal) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   "payments:record",
		Entity:   "sale",
		EntityID: strconv.FormatInt(saleID, 10),
		Meta:     map[string]any{"amount": amount.String()},
		At:       time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, log); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", "action", "payments:record", "error", err)
	}
}
