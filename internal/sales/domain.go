package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sale is a customer booking. Its product lines reserve stock against the
// product ledger; backordered quantities live in separate on-order rows that
// reserve nothing.
type Sale struct {
	ID              int64           `json:"id"`
	Code            string          `json:"code"`
	CustomerName    string          `json:"customerName"`
	CustomerPhone   string          `json:"customerPhone"`
	CustomerAddress string          `json:"customerAddress"`
	NoDelivery      bool            `json:"noDelivery"`
	BillingAmount   decimal.Decimal `json:"billingAmount"`
	TotalBooking    decimal.Decimal `json:"totalBookingAmount"`
	AdvanceReceived decimal.Decimal `json:"advanceReceived"`
	Remaining       decimal.Decimal `json:"remainingAmount"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Lines           []Line          `json:"lines"`
	OnOrder         []OnOrderLine   `json:"onOrder"`
}

// Line is one reserved product line. SubProductID is zero for individual
// products and the sub-product unit id for set products. A line edited down
// to zero stays on the sale with QuantitySold zero, preserving its identity
// for history.
type Line struct {
	ID              int64 `json:"id"`
	SaleID          int64 `json:"saleId"`
	ProductID       int64 `json:"productId"`
	SubProductID    int64 `json:"subProductId"`
	QuantitySold    int64 `json:"quantitySold"`
	BalanceSnapshot int64 `json:"balanceSnapshot"`
}

// OnOrderLine is a backordered quantity promised without a stock
// reservation. Rows are replaced wholesale on every edit.
type OnOrderLine struct {
	ID           int64 `json:"id"`
	SaleID       int64 `json:"saleId"`
	ProductID    int64 `json:"productId"`
	SubProductID int64 `json:"subProductId"`
	Quantity     int64 `json:"quantity"`
}

// EditLog is one field-level before/after entry of a sale edit. Append-only.
type EditLog struct {
	ID        int64     `json:"id"`
	SaleID    int64     `json:"saleId"`
	Field     string    `json:"field"`
	Before    string    `json:"before"`
	After     string    `json:"after"`
	ActorID   int64     `json:"actorId"`
	ChangedAt time.Time `json:"changedAt"`
}
