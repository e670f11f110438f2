package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timberline-erp/timberline/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	GetBrokenSetReport(ctx context.Context, productID int64) (BrokenSetReport, error)
}

// TxRepository exposes transactional operations used by service. The booking,
// edit and dispatch engines receive the same interface bound to their own
// transaction, so every ledger mutation shares one commit with the records
// that depend on it.
type TxRepository interface {
	InsertProduct(ctx context.Context, p Product) (int64, error)
	InsertUnit(ctx context.Context, u Unit) (int64, error)
	GetUnitForUpdate(ctx context.Context, ref Ref) (Unit, error)
	ListSetUnitsForUpdate(ctx context.Context, productID int64) ([]Unit, error)
	UpdateUnitCounters(ctx context.Context, u Unit) error
	ReplaceBrokenSetReport(ctx context.Context, report BrokenSetReport) error
	InsertMovement(ctx context.Context, m Movement) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// AllowUncheckedBooking skips the balance check on Reserve, matching the
	// historically permissive booking path. Off by default; edits always check.
	AllowUncheckedBooking bool
}

// Service is the single authoritative mutator of product stock counters.
type Service struct {
	repo           RepositoryPort
	audit          AuditPort
	allowUnchecked bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, allowUnchecked: cfg.AllowUncheckedBooking}
}

// SubProductInput describes one sub-product of a new set product.
type SubProductInput struct {
	Name        string
	RequiredQty int64
	Quantity    int64
}

// CreateProductInput describes a product-add request.
type CreateProductInput struct {
	Code        string
	Name        string
	Kind        ProductKind
	Quantity    int64
	SubProducts []SubProductInput
	ActorID     int64
}

// CreateProduct registers a product with its initial stock. Initial quantity
// counts as both stocked and physically present.
func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (Product, error) {
	if input.Code == "" || input.Name == "" {
		return Product{}, errors.New("ledger: code and name required")
	}
	switch input.Kind {
	case KindIndividual:
		if len(input.SubProducts) > 0 {
			return Product{}, ErrSubProductUnexpected
		}
		if input.Quantity < 0 {
			return Product{}, fmt.Errorf("%w: initial quantity %d", shared.ErrInvalidQuantity, input.Quantity)
		}
	case KindSet:
		if len(input.SubProducts) == 0 {
			return Product{}, errors.New("ledger: set product requires sub-products")
		}
		for _, sub := range input.SubProducts {
			if sub.Name == "" {
				return Product{}, errors.New("ledger: sub-product name required")
			}
			if sub.RequiredQty <= 0 {
				return Product{}, fmt.Errorf("%w: required qty for %q", shared.ErrInvalidQuantity, sub.Name)
			}
			if sub.Quantity < 0 {
				return Product{}, fmt.Errorf("%w: initial quantity for %q", shared.ErrInvalidQuantity, sub.Name)
			}
		}
	default:
		return Product{}, fmt.Errorf("ledger: unknown product kind %q", input.Kind)
	}

	now := time.Now().UTC()
	var productID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertProduct(ctx, Product{Code: input.Code, Name: input.Name, Kind: input.Kind, CreatedAt: now})
		if err != nil {
			return err
		}
		productID = id
		units := []Unit{}
		if input.Kind == KindIndividual {
			units = append(units, Unit{
				ProductID: id,
				Quantity:  input.Quantity,
				InStore:   input.Quantity,
				Balance:   input.Quantity,
			})
		} else {
			for _, sub := range input.SubProducts {
				units = append(units, Unit{
					ProductID:   id,
					Name:        sub.Name,
					RequiredQty: sub.RequiredQty,
					Quantity:    sub.Quantity,
					InStore:     sub.Quantity,
					Balance:     sub.Quantity,
				})
			}
		}
		for i := range units {
			unitID, err := tx.InsertUnit(ctx, units[i])
			if err != nil {
				return err
			}
			units[i].ID = unitID
			if units[i].Quantity > 0 {
				mv := Movement{
					ProductID:    id,
					SubProductID: subID(units[i]),
					Type:         MovementRestock,
					Qty:          units[i].Quantity,
					RefModule:    "ledger",
					Note:         "initial stock",
					PostedAt:     now,
				}
				if err := tx.InsertMovement(ctx, mv); err != nil {
					return err
				}
			}
		}
		if input.Kind == KindSet {
			return tx.ReplaceBrokenSetReport(ctx, ComputeBrokenSet(id, units))
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	s.record(ctx, input.ActorID, "ledger:create", productID, map[string]any{"code": input.Code, "kind": string(input.Kind)})
	return s.repo.GetProduct(ctx, productID)
}

// ReserveTx increments the sales counter against available balance and
// recomputes the derived balance. Fails with ErrInsufficientStock when the
// projected balance would go negative, unless unchecked booking is enabled.
func (s *Service) ReserveTx(ctx context.Context, tx TxRepository, ref Ref, qty int64, meta MovementMeta) (Unit, error) {
	return s.reserveTx(ctx, tx, ref, qty, meta, !s.allowUnchecked)
}

// ReserveStrictTx is ReserveTx with the balance check always enforced. The
// edit path re-checks stock after rollback regardless of how permissive the
// booking path is configured to be.
func (s *Service) ReserveStrictTx(ctx context.Context, tx TxRepository, ref Ref, qty int64, meta MovementMeta) (Unit, error) {
	return s.reserveTx(ctx, tx, ref, qty, meta, true)
}

func (s *Service) reserveTx(ctx context.Context, tx TxRepository, ref Ref, qty int64, meta MovementMeta, checked bool) (Unit, error) {
	if qty <= 0 {
		return Unit{}, fmt.Errorf("%w: reserve %d", shared.ErrInvalidQuantity, qty)
	}
	u, err := tx.GetUnitForUpdate(ctx, ref)
	if err != nil {
		return Unit{}, err
	}
	u.Sales += qty
	u.Balance = u.Quantity - u.Sales
	if u.Balance < 0 && checked {
		return Unit{}, fmt.Errorf("%w: product %d needs %d, available %d",
			shared.ErrInsufficientStock, ref.ProductID, qty, u.Quantity-(u.Sales-qty))
	}
	if err := s.applyCounters(ctx, tx, u, MovementReserve, qty, meta); err != nil {
		return Unit{}, err
	}
	return u, nil
}

// ReleaseTx is the inverse of ReserveTx, used on rollback and deletion.
func (s *Service) ReleaseTx(ctx context.Context, tx TxRepository, ref Ref, qty int64, meta MovementMeta) (Unit, error) {
	if qty <= 0 {
		return Unit{}, fmt.Errorf("%w: release %d", shared.ErrInvalidQuantity, qty)
	}
	u, err := tx.GetUnitForUpdate(ctx, ref)
	if err != nil {
		return Unit{}, err
	}
	u.Sales -= qty
	if u.Sales < 0 {
		u.Sales = 0
	}
	u.Balance = u.Quantity - u.Sales
	if err := s.applyCounters(ctx, tx, u, MovementRelease, qty, meta); err != nil {
		return Unit{}, err
	}
	return u, nil
}

// RestockTx increments total quantity and physical presence.
func (s *Service) RestockTx(ctx context.Context, tx TxRepository, ref Ref, qty int64, meta MovementMeta) (Unit, error) {
	if qty <= 0 {
		return Unit{}, fmt.Errorf("%w: restock %d", shared.ErrInvalidQuantity, qty)
	}
	u, err := tx.GetUnitForUpdate(ctx, ref)
	if err != nil {
		return Unit{}, err
	}
	u.Quantity += qty
	u.InStore += qty
	u.Balance = u.Quantity - u.Sales
	if err := s.applyCounters(ctx, tx, u, MovementRestock, qty, meta); err != nil {
		return Unit{}, err
	}
	return u, nil
}

// AdjustInStoreTx moves physical stock without touching the sales counter.
// The in-store count floors at zero.
func (s *Service) AdjustInStoreTx(ctx context.Context, tx TxRepository, ref Ref, delta int64, meta MovementMeta) (Unit, error) {
	if delta == 0 {
		return Unit{}, fmt.Errorf("%w: in-store delta must be non-zero", shared.ErrInvalidQuantity)
	}
	u, err := tx.GetUnitForUpdate(ctx, ref)
	if err != nil {
		return Unit{}, err
	}
	u.InStore += delta
	if u.InStore < 0 {
		u.InStore = 0
	}
	if err := s.applyCounters(ctx, tx, u, MovementInStore, delta, meta); err != nil {
		return Unit{}, err
	}
	return u, nil
}

// Reserve runs ReserveTx in its own transaction.
func (s *Service) Reserve(ctx context.Context, ref Ref, qty int64, meta MovementMeta) (Unit, error) {
	return s.standalone(ctx, meta, "ledger:reserve", ref, func(ctx context.Context, tx TxRepository) (Unit, error) {
		return s.ReserveTx(ctx, tx, ref, qty, meta)
	})
}

// Release runs ReleaseTx in its own transaction.
func (s *Service) Release(ctx context.Context, ref Ref, qty int64, meta MovementMeta) (Unit, error) {
	return s.standalone(ctx, meta, "ledger:release", ref, func(ctx context.Context, tx TxRepository) (Unit, error) {
		return s.ReleaseTx(ctx, tx, ref, qty, meta)
	})
}

// Restock runs RestockTx in its own transaction.
func (s *Service) Restock(ctx context.Context, ref Ref, qty int64, meta MovementMeta) (Unit, error) {
	return s.standalone(ctx, meta, "ledger:restock", ref, func(ctx context.Context, tx TxRepository) (Unit, error) {
		return s.RestockTx(ctx, tx, ref, qty, meta)
	})
}

// AdjustInStore runs AdjustInStoreTx in its own transaction.
func (s *Service) AdjustInStore(ctx context.Context, ref Ref, delta int64, meta MovementMeta) (Unit, error) {
	return s.standalone(ctx, meta, "ledger:adjust-in-store", ref, func(ctx context.Context, tx TxRepository) (Unit, error) {
		return s.AdjustInStoreTx(ctx, tx, ref, delta, meta)
	})
}

// GetProduct returns a product with its counters.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts returns all products with their counters.
func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.repo.ListProducts(ctx)
}

// GetBrokenSetReport returns the persisted broken set report for a set product.
func (s *Service) GetBrokenSetReport(ctx context.Context, productID int64) (BrokenSetReport, error) {
	return s.repo.GetBrokenSetReport(ctx, productID)
}

func (s *Service) standalone(ctx context.Context, meta MovementMeta, action string, ref Ref, fn func(context.Context, TxRepository) (Unit, error)) (Unit, error) {
	var unit Unit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		unit = u
		return nil
	})
	if err != nil {
		return Unit{}, err
	}
	s.record(ctx, meta.ActorID, action, ref.ProductID, map[string]any{
		"sub_product_id": ref.SubProductID,
		"balance":        unit.Balance,
		"in_store":       unit.InStore,
	})
	return unit, nil
}

// applyCounters persists the mutated counters, appends the movement record and
// refreshes the broken set report when a set sub-product changed.
func (s *Service) applyCounters(ctx context.Context, tx TxRepository, u Unit, mvType MovementType, qty int64, meta MovementMeta) error {
	if err := tx.UpdateUnitCounters(ctx, u); err != nil {
		return err
	}
	mv := Movement{
		ProductID:    u.ProductID,
		SubProductID: subID(u),
		Type:         mvType,
		Qty:          qty,
		RefModule:    meta.RefModule,
		RefID:        meta.RefID,
		Note:         meta.Note,
		PostedAt:     time.Now().UTC(),
	}
	if err := tx.InsertMovement(ctx, mv); err != nil {
		return err
	}
	if u.RequiredQty > 0 {
		units, err := tx.ListSetUnitsForUpdate(ctx, u.ProductID)
		if err != nil {
			return err
		}
		if err := tx.ReplaceBrokenSetReport(ctx, ComputeBrokenSet(u.ProductID, units)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, productID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "product",
		EntityID: fmt.Sprintf("%d", productID),
		Meta:     meta,
	})
}

func subID(u Unit) int64 {
	if u.RequiredQty > 0 {
		return u.ID
	}
	return 0
}
