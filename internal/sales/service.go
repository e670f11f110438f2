package sales

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/timberline-erp/timberline/internal/delivery"
	"github.com/timberline-erp/timberline/internal/ledger"
	"github.com/timberline-erp/timberline/internal/shared"
)

// TxRepository exposes sale persistence bound to a transaction, together
// with the ledger and delivery repositories bound to the same transaction.
// The whole rollback-validate-reapply-reconcile sequence of an edit commits
// or rolls back as one unit.
type TxRepository interface {
	Ledger() ledger.TxRepository
	Delivery() delivery.TxRepository
	CountSalesForDay(ctx context.Context, day time.Time) (int64, error)
	InsertSale(ctx context.Context, s Sale) (int64, error)
	UpdateSaleHeader(ctx context.Context, s Sale) error
	GetSaleForUpdate(ctx context.Context, id int64) (Sale, error)
	ReplaceLines(ctx context.Context, saleID int64, lines []Line) error
	ReplaceOnOrder(ctx context.Context, saleID int64, rows []OnOrderLine) error
	DeleteSale(ctx context.Context, id int64) error
	InsertEditLogs(ctx context.Context, logs []EditLog) error
	PaymentsTotal(ctx context.Context, saleID int64) (decimal.Decimal, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSales(ctx context.Context) ([]Sale, error)
	ListEditLogs(ctx context.Context, saleID int64) ([]EditLog, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the sale booking and edit engine.
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

// LineInput is one requested product line. Quantity reserves stock;
// OnOrderQty is promised without reservation.
type LineInput struct {
	ProductID    int64 `json:"productId" validate:"required"`
	SubProductID int64 `json:"subProductId" validate:"gte=0"`
	Quantity     int64 `json:"quantity" validate:"gte=0"`
	OnOrderQty   int64 `json:"onOrderQty" validate:"gte=0"`
}

// SaleInput is a booking or edit payload. An edit payload replaces the
// sale's product list wholesale.
type SaleInput struct {
	CustomerName    string          `json:"customerName" validate:"required"`
	CustomerPhone   string          `json:"customerPhone"`
	CustomerAddress string          `json:"customerAddress"`
	NoDelivery      bool            `json:"noDelivery"`
	BillingAmount   decimal.Decimal `json:"billingAmount"`
	TotalBooking    decimal.Decimal `json:"totalBookingAmount"`
	AdvanceReceived decimal.Decimal `json:"advanceReceived"`
	Lines           []LineInput     `json:"lines" validate:"required,min=1,dive"`
	ActorID         int64           `json:"-"`
}

func (in SaleInput) check() error {
	if in.BillingAmount.IsNegative() || in.TotalBooking.IsNegative() || in.AdvanceReceived.IsNegative() {
		return fmt.Errorf("%w: amounts must not be negative", shared.ErrInvalidQuantity)
	}
	seen := make(map[delivery.Key]bool, len(in.Lines))
	for _, l := range in.Lines {
		if l.Quantity < 0 || l.OnOrderQty < 0 {
			return fmt.Errorf("%w: product %d", shared.ErrInvalidQuantity, l.ProductID)
		}
		k := delivery.Key{ProductID: l.ProductID, SubProductID: l.SubProductID}
		if seen[k] {
			return fmt.Errorf("%w: duplicate line for product %d", shared.ErrInvalidQuantity, l.ProductID)
		}
		seen[k] = true
	}
	return nil
}

// Create books a sale: reserves every requested line against the ledger,
// records backordered quantities as on-order rows, and creates the delivery
// document at zero delivered. A take-away sale additionally moves the
// reserved goods out of physical stock immediately.
func (s *Service) Create(ctx context.Context, input SaleInput) (Sale, error) {
	if err := input.check(); err != nil {
		return Sale{}, err
	}
	var saleID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := time.Now().UTC()
		n, err := tx.CountSalesForDay(ctx, now)
		if err != nil {
			return err
		}
		sale := Sale{
			Code:            fmt.Sprintf("SO-%s-%04d", now.Format("20060102"), n+1),
			CustomerName:    input.CustomerName,
			CustomerPhone:   input.CustomerPhone,
			CustomerAddress: input.CustomerAddress,
			NoDelivery:      input.NoDelivery,
			BillingAmount:   input.BillingAmount,
			TotalBooking:    input.TotalBooking,
			AdvanceReceived: input.AdvanceReceived,
			Remaining:       input.TotalBooking.Sub(input.AdvanceReceived),
		}
		saleID, err = tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		meta := ledger.MovementMeta{RefModule: "sales", RefID: sale.Code, ActorID: input.ActorID}

		var lines []Line
		var onOrder []OnOrderLine
		var dLines []delivery.Line
		for _, in := range input.Lines {
			ref := ledger.Ref{ProductID: in.ProductID, SubProductID: in.SubProductID}
			if in.Quantity > 0 {
				unit, err := s.stock.ReserveTx(ctx, tx.Ledger(), ref, in.Quantity, meta)
				if err != nil {
					return err
				}
				lines = append(lines, Line{
					SaleID:          saleID,
					ProductID:       in.ProductID,
					SubProductID:    in.SubProductID,
					QuantitySold:    in.Quantity,
					BalanceSnapshot: unit.Balance,
				})
				dLines = append(dLines, delivery.Line{
					ProductID:         in.ProductID,
					SubProductID:      in.SubProductID,
					QuantitySold:      in.Quantity,
					QuantityRemaining: in.Quantity,
				})
				if input.NoDelivery {
					if _, err := s.stock.AdjustInStoreTx(ctx, tx.Ledger(), ref, -in.Quantity, meta); err != nil {
						return err
					}
				}
			}
			if in.OnOrderQty > 0 {
				onOrder = append(onOrder, OnOrderLine{
					SaleID:       saleID,
					ProductID:    in.ProductID,
					SubProductID: in.SubProductID,
					Quantity:     in.OnOrderQty,
				})
			}
		}
		if err := tx.ReplaceLines(ctx, saleID, lines); err != nil {
			return err
		}
		if err := tx.ReplaceOnOrder(ctx, saleID, onOrder); err != nil {
			return err
		}
		_, err = tx.Delivery().InsertDelivery(ctx, delivery.Delivery{
			SaleID: saleID,
			Status: delivery.StatusNone,
			Lines:  dLines,
		})
		return err
	})
	if err != nil {
		return Sale{}, err
	}
	s.record(ctx, input.ActorID, "sales:create", saleID, nil)
	return s.repo.GetSale(ctx, saleID)
}

// Edit applies the three-phase edit protocol inside one transaction: release
// every reserved line of the original sale, re-reserve every line of the new
// payload with the stock check always on, then reconcile the delivery
// document and replace the on-order rows. An insufficient-stock failure
// rolls the whole transaction back, so the released state never becomes
// visible. Every changed field is appended to the edit history.
func (s *Service) Edit(ctx context.Context, saleID int64, input SaleInput) (Sale, error) {
	if err := input.check(); err != nil {
		return Sale{}, err
	}
	err := s.withSaleLock(ctx, saleID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			orig, err := tx.GetSaleForUpdate(ctx, saleID)
			if err != nil {
				return err
			}
			meta := ledger.MovementMeta{RefModule: "sales", RefID: orig.Code, ActorID: input.ActorID}

			// phase 1: roll back the original reservation
			for _, l := range orig.Lines {
				if l.QuantitySold <= 0 {
					continue
				}
				ref := ledger.Ref{ProductID: l.ProductID, SubProductID: l.SubProductID}
				if _, err := s.stock.ReleaseTx(ctx, tx.Ledger(), ref, l.QuantitySold, meta); err != nil {
					return err
				}
				if orig.NoDelivery {
					if _, err := s.stock.AdjustInStoreTx(ctx, tx.Ledger(), ref, l.QuantitySold, meta); err != nil {
						return err
					}
				}
			}

			// phases 2+3: validate and reapply. The strict reserve checks the
			// post-rollback balance regardless of booking configuration.
			prior := make(map[delivery.Key]Line, len(orig.Lines))
			for _, l := range orig.Lines {
				prior[delivery.Key{ProductID: l.ProductID, SubProductID: l.SubProductID}] = l
			}
			var lines []Line
			var onOrder []OnOrderLine
			newSold := make(map[delivery.Key]int64, len(input.Lines))
			for _, in := range input.Lines {
				k := delivery.Key{ProductID: in.ProductID, SubProductID: in.SubProductID}
				ref := ledger.Ref{ProductID: in.ProductID, SubProductID: in.SubProductID}
				line := Line{
					SaleID:       saleID,
					ProductID:    in.ProductID,
					SubProductID: in.SubProductID,
					QuantitySold: in.Quantity,
				}
				if p, ok := prior[k]; ok {
					line.ID = p.ID
					line.BalanceSnapshot = p.BalanceSnapshot
				}
				if in.Quantity > 0 {
					unit, err := s.stock.ReserveStrictTx(ctx, tx.Ledger(), ref, in.Quantity, meta)
					if err != nil {
						return err
					}
					line.BalanceSnapshot = unit.Balance
					if input.NoDelivery {
						if _, err := s.stock.AdjustInStoreTx(ctx, tx.Ledger(), ref, -in.Quantity, meta); err != nil {
							return err
						}
					}
				}
				newSold[k] = in.Quantity
				lines = append(lines, line)
				if in.OnOrderQty > 0 {
					onOrder = append(onOrder, OnOrderLine{
						SaleID:       saleID,
						ProductID:    in.ProductID,
						SubProductID: in.SubProductID,
						Quantity:     in.OnOrderQty,
					})
				}
			}
			if err := tx.ReplaceLines(ctx, saleID, lines); err != nil {
				return err
			}
			if err := tx.ReplaceOnOrder(ctx, saleID, onOrder); err != nil {
				return err
			}

			paid, err := tx.PaymentsTotal(ctx, saleID)
			if err != nil {
				return err
			}
			updated := orig
			updated.CustomerName = input.CustomerName
			updated.CustomerPhone = input.CustomerPhone
			updated.CustomerAddress = input.CustomerAddress
			updated.NoDelivery = input.NoDelivery
			updated.BillingAmount = input.BillingAmount
			updated.TotalBooking = input.TotalBooking
			updated.AdvanceReceived = input.AdvanceReceived
			updated.Remaining = input.TotalBooking.Sub(input.AdvanceReceived).Sub(paid)
			updated.Lines = lines
			updated.OnOrder = onOrder
			if err := tx.UpdateSaleHeader(ctx, updated); err != nil {
				return err
			}

			// reconcile delivery against the new reserved quantities
			dtx := tx.Delivery()
			d, err := dtx.GetBySaleForUpdate(ctx, saleID)
			if err != nil {
				return err
			}
			returns, err := dtx.ListReturnsForUpdate(ctx, saleID)
			if err != nil {
				return err
			}
			res := delivery.ReconcileAfterEdit(d, returns, newSold, len(onOrder) > 0)
			if err := dtx.SaveLines(ctx, d.ID, res.Lines); err != nil {
				return err
			}
			for _, ret := range res.Returns {
				if err := dtx.UpsertReturn(ctx, ret); err != nil {
					return err
				}
			}
			if err := dtx.UpdateStatus(ctx, d.ID, res.Status); err != nil {
				return err
			}

			logs := diffSale(orig, updated, input.ActorID)
			if len(logs) == 0 {
				return nil
			}
			return tx.InsertEditLogs(ctx, logs)
		})
	})
	if err != nil {
		return Sale{}, err
	}
	s.record(ctx, input.ActorID, "sales:edit", saleID, nil)
	return s.repo.GetSale(ctx, saleID)
}

// Delete reverses every reservation the sale holds and removes it together
// with its dependent rows.
func (s *Service) Delete(ctx context.Context, saleID, actorID int64) error {
	err := s.withSaleLock(ctx, saleID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			orig, err := tx.GetSaleForUpdate(ctx, saleID)
			if err != nil {
				return err
			}
			meta := ledger.MovementMeta{RefModule: "sales", RefID: orig.Code, ActorID: actorID}
			for _, l := range orig.Lines {
				if l.QuantitySold <= 0 {
					continue
				}
				ref := ledger.Ref{ProductID: l.ProductID, SubProductID: l.SubProductID}
				if _, err := s.stock.ReleaseTx(ctx, tx.Ledger(), ref, l.QuantitySold, meta); err != nil {
					return err
				}
				// Take-away sales moved physical stock at booking; the
				// rollback returns it, same as the edit path.
				if orig.NoDelivery {
					if _, err := s.stock.AdjustInStoreTx(ctx, tx.Ledger(), ref, l.QuantitySold, meta); err != nil {
						return err
					}
				}
			}
			return tx.DeleteSale(ctx, saleID)
		})
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "sales:delete", saleID, nil)
	return nil
}

// Get returns a sale with its lines and on-order rows.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// List returns all sales, newest first.
func (s *Service) List(ctx context.Context) ([]Sale, error) {
	return s.repo.ListSales(ctx)
}

// EditHistory returns the append-only edit log for a sale.
func (s *Service) EditHistory(ctx context.Context, saleID int64) ([]EditLog, error) {
	return s.repo.ListEditLogs(ctx, saleID)
}

// diffSale produces one edit-log entry per changed header field, product
// line and on-order row.
func diffSale(orig, updated Sale, actorID int64) []EditLog {
	now := time.Now().UTC()
	var logs []EditLog
	add := func(field, before, after string) {
		if before == after {
			return
		}
		logs = append(logs, EditLog{
			SaleID: orig.ID, Field: field, Before: before, After: after,
			ActorID: actorID, ChangedAt: now,
		})
	}

	add("customer_name", orig.CustomerName, updated.CustomerName)
	add("customer_phone", orig.CustomerPhone, updated.CustomerPhone)
	add("customer_address", orig.CustomerAddress, updated.CustomerAddress)
	add("no_delivery", strconv.FormatBool(orig.NoDelivery), strconv.FormatBool(updated.NoDelivery))
	add("billing_amount", orig.BillingAmount.String(), updated.BillingAmount.String())
	add("total_booking_amount", orig.TotalBooking.String(), updated.TotalBooking.String())
	add("advance_received", orig.AdvanceReceived.String(), updated.AdvanceReceived.String())

	oldQty := lineQuantities(orig.Lines)
	newQty := lineQuantities(updated.Lines)
	for k, before := range oldQty {
		add(lineField(k), strconv.FormatInt(before, 10), strconv.FormatInt(newQty[k], 10))
	}
	for k, after := range newQty {
		if _, ok := oldQty[k]; !ok {
			add(lineField(k), "0", strconv.FormatInt(after, 10))
		}
	}

	oldOn := onOrderQuantities(orig.OnOrder)
	newOn := onOrderQuantities(updated.OnOrder)
	for k, before := range oldOn {
		add(onOrderField(k), strconv.FormatInt(before, 10), strconv.FormatInt(newOn[k], 10))
	}
	for k, after := range newOn {
		if _, ok := oldOn[k]; !ok {
			add(onOrderField(k), "0", strconv.FormatInt(after, 10))
		}
	}
	return logs
}

func lineQuantities(lines []Line) map[delivery.Key]int64 {
	out := make(map[delivery.Key]int64, len(lines))
	for _, l := range lines {
		out[delivery.Key{ProductID: l.ProductID, SubProductID: l.SubProductID}] = l.QuantitySold
	}
	return out
}

func onOrderQuantities(rows []OnOrderLine) map[delivery.Key]int64 {
	out := make(map[delivery.Key]int64, len(rows))
	for _, r := range rows {
		out[delivery.Key{ProductID: r.ProductID, SubProductID: r.SubProductID}] = r.Quantity
	}
	return out
}

func lineField(k delivery.Key) string {
	return fmt.Sprintf("line:%d:%d:quantity_sold", k.ProductID, k.SubProductID)
}

func onOrderField(k delivery.Key) string {
	return fmt.Sprintf("on_order:%d:%d:quantity", k.ProductID, k.SubProductID)
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
		EntityID: strconv.FormatInt(saleID, 10),
		Meta:     meta,
		At:       time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, log); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}
