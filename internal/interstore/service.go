package interstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/timberline-erp/timberline/internal/ledger"
	"github.com/timberline-erp/timberline/internal/shared"
)

// TxRepository exposes inter-store persistence bound to a transaction,
// alongside the ledger bound to the same transaction.
type TxRepository interface {
	Ledger() ledger.TxRepository
	InsertItem(ctx context.Context, item ImportItem) (int64, error)
	GetItemForUpdate(ctx context.Context, id int64) (ImportItem, error)
	UpdateItemCounters(ctx context.Context, item ImportItem) error
	InsertChallan(ctx context.Context, ch Challan) (int64, error)
	CountChallansForDay(ctx context.Context, day time.Time) (int64, error)
	GetReturnForUpdate(ctx context.Context, id int64) (StoreReturn, error)
	GetReturnByItemForUpdate(ctx context.Context, itemID int64) (StoreReturn, error)
	UpsertReturn(ctx context.Context, ret StoreReturn) (int64, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (ImportItem, error)
	ListItems(ctx context.Context) ([]ImportItem, error)
	ListChallans(ctx context.Context, itemID int64) ([]Challan, error)
	ListReturns(ctx context.Context) ([]StoreReturn, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the inter-store dispatch pipeline: quota reservation,
// physical dispatch, quota revision and return receipt.
type Service struct {
	repo   RepositoryPort
	stock  *ledger.Service
	locker *shared.EntityLocker
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, stock *ledger.Service, locker *shared.EntityLocker, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, stock: stock, locker: locker, audit: audit, logger: logger}
}

// CreateItemInput describes a new import request line.
type CreateItemInput struct {
	StoreName    string `json:"storeName" validate:"required"`
	ProductID    int64  `json:"productId" validate:"required"`
	SubProductID int64  `json:"subProductId" validate:"gte=0"`
	Decided      int64  `json:"decidedToBeDispatched" validate:"required,gt=0"`
	ActorID      int64  `json:"-"`
}

// CreateItem opens an import request line. The decided quota reserves stock
// the same way a sale booking does, so the quantity cannot be double-sold
// while it waits for dispatch.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (ImportItem, error) {
	if input.Decided <= 0 {
		return ImportItem{}, fmt.Errorf("%w: decided quota %d", shared.ErrInvalidQuantity, input.Decided)
	}
	var itemID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ref := ledger.Ref{ProductID: input.ProductID, SubProductID: input.SubProductID}
		meta := ledger.MovementMeta{RefModule: "interstore", RefID: input.StoreName, ActorID: input.ActorID}
		if _, err := s.stock.ReserveStrictTx(ctx, tx.Ledger(), ref, input.Decided, meta); err != nil {
			return err
		}
		var err error
		itemID, err = tx.InsertItem(ctx, ImportItem{
			StoreName:    input.StoreName,
			ProductID:    input.ProductID,
			SubProductID: input.SubProductID,
			Decided:      input.Decided,
			Remaining:    input.Decided,
		})
		return err
	})
	if err != nil {
		return ImportItem{}, err
	}
	s.record(ctx, input.ActorID, "interstore:create", itemID, map[string]any{"store": input.StoreName})
	return s.repo.GetItem(ctx, itemID)
}

// Dispatch moves qty physical units toward the requesting store. It fails
// with ErrExceedsQuota beyond the remaining quota, moves the goods out of
// in-store stock and appends an immutable challan with a per-day sequential
// code.
func (s *Service) Dispatch(ctx context.Context, itemID, qty, actorID int64) (Challan, error) {
	if qty <= 0 {
		return Challan{}, fmt.Errorf("%w: dispatch %d", shared.ErrInvalidQuantity, qty)
	}
	var out Challan
	err := s.withItemLock(ctx, itemID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			item, err := tx.GetItemForUpdate(ctx, itemID)
			if err != nil {
				return err
			}
			if qty > item.Remaining {
				return fmt.Errorf("%w: dispatch %d, remaining %d", shared.ErrExceedsQuota, qty, item.Remaining)
			}
			ref := ledger.Ref{ProductID: item.ProductID, SubProductID: item.SubProductID}
			meta := ledger.MovementMeta{RefModule: "interstore", RefID: item.StoreName, ActorID: actorID}
			if _, err := s.stock.AdjustInStoreTx(ctx, tx.Ledger(), ref, -qty, meta); err != nil {
				return err
			}
			item.Dispatched += qty
			item.Remaining = item.Decided - item.Dispatched
			if item.Remaining < 0 {
				item.Remaining = 0
			}
			if err := tx.UpdateItemCounters(ctx, item); err != nil {
				return err
			}
			now := time.Now().UTC()
			n, err := tx.CountChallansForDay(ctx, now)
			if err != nil {
				return err
			}
			ch := Challan{
				ItemID:       itemID,
				Code:         fmt.Sprintf("CH-%s-%04d", now.Format("20060102"), n+1),
				Quantity:     qty,
				DispatchedAt: now,
			}
			ch.ID, err = tx.InsertChallan(ctx, ch)
			out = ch
			return err
		})
	})
	if err != nil {
		return Challan{}, err
	}
	s.record(ctx, actorID, "interstore:dispatch", itemID, map[string]any{"challan": out.Code, "qty": qty})
	return out, nil
}

// ReviseQuota changes an item's decided quota. The ledger reservation tracks
// the quota: raising it reserves the difference, lowering it releases the
// difference. When the new quota falls below what was already dispatched,
// the excess becomes a store return owed back and the remaining quota
// resets to zero.
func (s *Service) ReviseQuota(ctx context.Context, itemID, newDecided, actorID int64) (ImportItem, error) {
	if newDecided < 0 {
		return ImportItem{}, fmt.Errorf("%w: quota %d", shared.ErrInvalidQuantity, newDecided)
	}
	err := s.withItemLock(ctx, itemID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			item, err := tx.GetItemForUpdate(ctx, itemID)
			if err != nil {
				return err
			}
			ref := ledger.Ref{ProductID: item.ProductID, SubProductID: item.SubProductID}
			meta := ledger.MovementMeta{RefModule: "interstore", RefID: item.StoreName, ActorID: actorID}
			switch delta := newDecided - item.Decided; {
			case delta > 0:
				if _, err := s.stock.ReserveStrictTx(ctx, tx.Ledger(), ref, delta, meta); err != nil {
					return err
				}
			case delta < 0:
				if _, err := s.stock.ReleaseTx(ctx, tx.Ledger(), ref, -delta, meta); err != nil {
					return err
				}
			}
			if shortfall := item.Dispatched - newDecided; shortfall > 0 {
				ret, err := tx.GetReturnByItemForUpdate(ctx, itemID)
				if err != nil {
					if !errors.Is(err, shared.ErrNotFound) {
						return err
					}
					ret = StoreReturn{ItemID: itemID, ProductID: item.ProductID, SubProductID: item.SubProductID}
				}
				// shortfall is the cumulative excess over the quota, so the
				// total owed is overwritten, not summed; receipts already
				// made stay counted against it.
				ret.QuantityReturned = shortfall
				ret.Status = returnStatus(ret)
				if _, err := tx.UpsertReturn(ctx, ret); err != nil {
					return err
				}
			} else {
				ret, err := tx.GetReturnByItemForUpdate(ctx, itemID)
				if err != nil && !errors.Is(err, shared.ErrNotFound) {
					return err
				}
				if err == nil && ret.QuantityReturned > ret.QuantityReceived {
					// the quota grew back past what was dispatched; nothing
					// further is owed back
					ret.QuantityReturned = ret.QuantityReceived
					ret.Status = ReturnReceived
					if _, err := tx.UpsertReturn(ctx, ret); err != nil {
						return err
					}
				}
			}
			item.Decided = newDecided
			item.Remaining = newDecided - item.Dispatched
			if item.Remaining < 0 {
				item.Remaining = 0
			}
			return tx.UpdateItemCounters(ctx, item)
		})
	})
	if err != nil {
		return ImportItem{}, err
	}
	s.record(ctx, actorID, "interstore:revise", itemID, map[string]any{"decided": newDecided})
	return s.repo.GetItem(ctx, itemID)
}

// ReceiveReturn records physical receipt of quantity owed back by the other
// store and restores in-store presence.
func (s *Service) ReceiveReturn(ctx context.Context, returnID, qty, actorID int64) (StoreReturn, error) {
	if qty <= 0 {
		return StoreReturn{}, fmt.Errorf("%w: receive %d", shared.ErrInvalidQuantity, qty)
	}
	var out StoreReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ret, err := tx.GetReturnForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		if ret.Status == ReturnReceived {
			return fmt.Errorf("%w: return %d already received", shared.ErrDuplicateOperation, returnID)
		}
		if pending := ret.QuantityReturned - ret.QuantityReceived; qty > pending {
			return fmt.Errorf("%w: receive %d, pending %d", shared.ErrInvalidQuantity, qty, pending)
		}
		ref := ledger.Ref{ProductID: ret.ProductID, SubProductID: ret.SubProductID}
		meta := ledger.MovementMeta{RefModule: "interstore", RefID: strconv.FormatInt(ret.ItemID, 10), ActorID: actorID}
		if _, err := s.stock.AdjustInStoreTx(ctx, tx.Ledger(), ref, qty, meta); err != nil {
			return err
		}
		ret.QuantityReceived += qty
		ret.Status = returnStatus(ret)
		if _, err := tx.UpsertReturn(ctx, ret); err != nil {
			return err
		}
		out = ret
		return nil
	})
	if err != nil {
		return StoreReturn{}, err
	}
	s.record(ctx, actorID, "interstore:return-received", out.ItemID, map[string]any{"qty": qty})
	return out, nil
}

// GetItem returns one import item.
func (s *Service) GetItem(ctx context.Context, id int64) (ImportItem, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems returns all import items.
func (s *Service) ListItems(ctx context.Context) ([]ImportItem, error) {
	return s.repo.ListItems(ctx)
}

// ListChallans returns the dispatch log for an item, oldest first.
func (s *Service) ListChallans(ctx context.Context, itemID int64) ([]Challan, error) {
	return s.repo.ListChallans(ctx, itemID)
}

// ListReturns returns all store returns.
func (s *Service) ListReturns(ctx context.Context) ([]StoreReturn, error) {
	return s.repo.ListReturns(ctx)
}

func returnStatus(ret StoreReturn) ReturnStatus {
	switch {
	case ret.QuantityReceived >= ret.QuantityReturned:
		return ReturnReceived
	case ret.QuantityReceived > 0:
		return ReturnPartial
	default:
		return ReturnPending
	}
}

func (s *Service) withItemLock(ctx context.Context, itemID int64, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, shared.ImportItemLockKey(itemID), fn)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, itemID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "import_item",
		EntityID: strconv.FormatInt(itemID, 10),
		Meta:     meta,
		At:       time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, log); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}
