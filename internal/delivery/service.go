package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/timberline-erp/timberline/internal/ledger"
	"github.com/timberline-erp/timberline/internal/shared"
)

// TxRepository exposes delivery persistence bound to a transaction. The sale
// booking and edit engines receive the same interface bound to their own
// transaction so delivery reconciliation commits with the sale mutation.
type TxRepository interface {
	Ledger() ledger.TxRepository
	InsertDelivery(ctx context.Context, d Delivery) (int64, error)
	GetBySaleForUpdate(ctx context.Context, saleID int64) (Delivery, error)
	SaveLines(ctx context.Context, deliveryID int64, lines []Line) error
	UpdateStatus(ctx context.Context, deliveryID int64, status Status) error
	InsertChallan(ctx context.Context, ch Challan) (int64, error)
	CountChallansForDay(ctx context.Context, day time.Time) (int64, error)
	ListReturnsForUpdate(ctx context.Context, saleID int64) ([]Return, error)
	UpsertReturn(ctx context.Context, r Return) error
	OnOrderPresent(ctx context.Context, saleID int64) (bool, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBySale(ctx context.Context, saleID int64) (Delivery, error)
	ListChallans(ctx context.Context, saleID int64) ([]Challan, error)
	ListReturns(ctx context.Context, saleID int64) ([]Return, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service tracks delivery pushes and return receipts against booked sales.
type Service struct {
	repo   RepositoryPort
	stock  *ledger.Service
	locker *shared.EntityLocker
	audit  AuditPort
	logger *slog.Logger
}

func NewService(repo RepositoryPort, stock *ledger.Service, locker *shared.EntityLocker, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, stock: stock, locker: locker, audit: audit, logger: logger}
}

// Selection is one line of a delivery push. Full delivers the line's entire
// remaining quantity; otherwise Quantity is delivered.
type Selection struct {
	ProductID    int64 `json:"productId" validate:"required"`
	SubProductID int64 `json:"subProductId"`
	Full         bool  `json:"full"`
	Quantity     int64 `json:"quantity"`
}

// PushInput is a pushDelivery request.
type PushInput struct {
	SaleID     int64       `json:"saleId" validate:"required"`
	Selections []Selection `json:"selections" validate:"required,min=1,dive"`
	ActorID    int64       `json:"-"`
}

// Push records one delivery session against a sale. Each selection delivers
// either an explicit quantity or, with full set, whatever remains on the
// line. The push appends an immutable challan and recomputes the aggregate
// status. Stock counters are untouched: the reservation already happened at
// booking time.
func (s *Service) Push(ctx context.Context, input PushInput) (Delivery, error) {
	var out Delivery
	err := s.withSaleLock(ctx, input.SaleID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			d, err := tx.GetBySaleForUpdate(ctx, input.SaleID)
			if err != nil {
				return err
			}
			byKey := make(map[Key]int, len(d.Lines))
			for i, l := range d.Lines {
				byKey[l.key()] = i
			}

			ch := Challan{DeliveryID: d.ID, PushedAt: time.Now().UTC()}
			for _, sel := range input.Selections {
				i, ok := byKey[Key{ProductID: sel.ProductID, SubProductID: sel.SubProductID}]
				if !ok {
					return fmt.Errorf("%w: delivery line for product %d", shared.ErrNotFound, sel.ProductID)
				}
				l := &d.Lines[i]
				qty := sel.Quantity
				if sel.Full {
					qty = l.QuantityRemaining
				}
				if qty <= 0 {
					return fmt.Errorf("%w: deliver %d of product %d", shared.ErrInvalidQuantity, qty, sel.ProductID)
				}
				if qty > l.QuantityRemaining {
					return fmt.Errorf("%w: deliver %d, remaining %d", shared.ErrInvalidQuantity, qty, l.QuantityRemaining)
				}
				l.QuantityDelivered += qty
				l.QuantityRemaining = l.QuantitySold - l.QuantityDelivered
				l.FullyDelivered = l.QuantityRemaining == 0
				ch.Lines = append(ch.Lines, ChallanLine{ProductID: sel.ProductID, SubProductID: sel.SubProductID, Quantity: qty})
			}

			if err := tx.SaveLines(ctx, d.ID, d.Lines); err != nil {
				return err
			}
			ch.Code, err = s.nextChallanCode(ctx, tx, ch.PushedAt)
			if err != nil {
				return err
			}
			if _, err := tx.InsertChallan(ctx, ch); err != nil {
				return err
			}
			onOrder, err := tx.OnOrderPresent(ctx, input.SaleID)
			if err != nil {
				return err
			}
			d.Status = DeriveStatus(d.Lines, onOrder)
			if err := tx.UpdateStatus(ctx, d.ID, d.Status); err != nil {
				return err
			}
			out = d
			return nil
		})
	})
	if err != nil {
		return Delivery{}, err
	}
	s.record(ctx, input.ActorID, "delivery:push", out.SaleID, map[string]any{"status": string(out.Status)})
	return out, nil
}

// ReturnInput is a markReturnReceived request. Quantity zero receives the
// full pending amount.
type ReturnInput struct {
	SaleID       int64 `json:"saleId" validate:"required"`
	ProductID    int64 `json:"productId" validate:"required"`
	SubProductID int64 `json:"subProductId"`
	Quantity     int64 `json:"quantity"`
	ActorID      int64 `json:"-"`
}

// MarkReturnReceived accepts a partial or full physical return of quantity
// that an edit made no longer owed. The accepted amount restores in-store
// presence and comes off the delivery line; the sale's reservation was
// already rolled back by the edit, so sales and balance stay untouched. The
// return flips to received only when nothing remains pending.
func (s *Service) MarkReturnReceived(ctx context.Context, input ReturnInput) (Return, error) {
	var out Return
	err := s.withSaleLock(ctx, input.SaleID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			returns, err := tx.ListReturnsForUpdate(ctx, input.SaleID)
			if err != nil {
				return err
			}
			var ret Return
			found := false
			for _, r := range returns {
				if r.ProductID == input.ProductID && r.SubProductID == input.SubProductID {
					ret, found = r, true
					break
				}
			}
			if !found {
				return fmt.Errorf("%w: return for sale %d product %d", shared.ErrNotFound, input.SaleID, input.ProductID)
			}
			if ret.Received {
				return fmt.Errorf("%w: return %d already received", shared.ErrDuplicateOperation, ret.ID)
			}
			qty := input.Quantity
			if qty == 0 {
				qty = ret.QuantityReturned
			}
			if qty < 0 || qty > ret.QuantityReturned {
				return fmt.Errorf("%w: receive %d, pending %d", shared.ErrInvalidQuantity, qty, ret.QuantityReturned)
			}

			ref := ledger.Ref{ProductID: input.ProductID, SubProductID: input.SubProductID}
			meta := ledger.MovementMeta{RefModule: "delivery", RefID: fmt.Sprintf("sale:%d", input.SaleID), ActorID: input.ActorID}
			if _, err := s.stock.AdjustInStoreTx(ctx, tx.Ledger(), ref, qty, meta); err != nil {
				return err
			}

			d, err := tx.GetBySaleForUpdate(ctx, input.SaleID)
			if err != nil {
				return err
			}
			for i := range d.Lines {
				l := &d.Lines[i]
				if l.ProductID != input.ProductID || l.SubProductID != input.SubProductID {
					continue
				}
				l.QuantityDelivered -= qty
				if l.QuantityDelivered < 0 {
					l.QuantityDelivered = 0
				}
				l.QuantityRemaining = l.QuantitySold - l.QuantityDelivered
				if l.QuantityRemaining < 0 {
					l.QuantityRemaining = 0
				}
				l.FullyDelivered = l.QuantityRemaining == 0
			}
			if err := tx.SaveLines(ctx, d.ID, d.Lines); err != nil {
				return err
			}

			ret.QuantityReturned -= qty
			ret.Received = ret.QuantityReturned == 0
			if err := tx.UpsertReturn(ctx, ret); err != nil {
				return err
			}
			onOrder, err := tx.OnOrderPresent(ctx, input.SaleID)
			if err != nil {
				return err
			}
			if err := tx.UpdateStatus(ctx, d.ID, DeriveStatus(d.Lines, onOrder)); err != nil {
				return err
			}
			out = ret
			return nil
		})
	})
	if err != nil {
		return Return{}, err
	}
	s.record(ctx, input.ActorID, "delivery:return-received", input.SaleID, map[string]any{
		"productId": input.ProductID, "received": out.Received,
	})
	return out, nil
}

// GetStatus returns the aggregate delivery view for a sale.
func (s *Service) GetStatus(ctx context.Context, saleID int64) (StatusView, error) {
	var view StatusView
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.GetBySaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		onOrder, err := tx.OnOrderPresent(ctx, saleID)
		if err != nil {
			return err
		}
		all := len(d.Lines) > 0
		for _, l := range d.Lines {
			if !l.FullyDelivered {
				all = false
			}
		}
		view = StatusView{SaleID: saleID, Status: d.Status, AllDelivered: all, OnOrderPresent: onOrder}
		return nil
	})
	return view, err
}

// GetBySale returns the delivery document with its lines.
func (s *Service) GetBySale(ctx context.Context, saleID int64) (Delivery, error) {
	return s.repo.GetBySale(ctx, saleID)
}

// ListChallans returns the append-only push log for a sale.
func (s *Service) ListChallans(ctx context.Context, saleID int64) ([]Challan, error) {
	return s.repo.ListChallans(ctx, saleID)
}

// ListReturns returns the return records for a sale.
func (s *Service) ListReturns(ctx context.Context, saleID int64) ([]Return, error) {
	return s.repo.ListReturns(ctx, saleID)
}

func (s *Service) nextChallanCode(ctx context.Context, tx TxRepository, at time.Time) (string, error) {
	n, err := tx.CountChallansForDay(ctx, at)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DC-%s-%04d", at.Format("20060102"), n+1), nil
}

func (s *Service) withSaleLock(ctx context.Context, saleID int64, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, shared.SaleLockKey(saleID), fn)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, saleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sale",
		EntityID: fmt.Sprintf("%d", saleID),
		Meta:     meta,
		At:       time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, log); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}
