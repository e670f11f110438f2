package delivery

import "time"

// Status is the aggregate delivery state of a sale.
type Status string

const (
	StatusNone    Status = "NO_DELIVERY"
	StatusPartial Status = "PARTIALLY_DELIVERED"
	StatusFull    Status = "FULLY_DELIVERED"
)

// Key addresses one delivery line: a product plus, for set products, the
// sub-product unit. SubProductID is zero for individual products.
type Key struct {
	ProductID    int64 `json:"productId"`
	SubProductID int64 `json:"subProductId"`
}

// Delivery tracks per-line delivered quantities for a single sale. One
// delivery exists per sale, created at booking time and never deleted.
type Delivery struct {
	ID        int64     `json:"id"`
	SaleID    int64     `json:"saleId"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Lines     []Line    `json:"lines"`
}

// Line mirrors a sale's reserved quantity and tracks how much of it has been
// physically delivered. On-order quantities never appear here.
type Line struct {
	ID                int64 `json:"id"`
	DeliveryID        int64 `json:"deliveryId"`
	ProductID         int64 `json:"productId"`
	SubProductID      int64 `json:"subProductId"`
	QuantitySold      int64 `json:"quantitySold"`
	QuantityDelivered int64 `json:"quantityDelivered"`
	QuantityRemaining int64 `json:"quantityRemaining"`
	FullyDelivered    bool  `json:"fullyDelivered"`
}

func (l Line) key() Key { return Key{ProductID: l.ProductID, SubProductID: l.SubProductID} }

// Challan is one immutable delivery push: a timestamped snapshot of the
// quantities that left the warehouse in that session.
type Challan struct {
	ID         int64         `json:"id"`
	DeliveryID int64         `json:"deliveryId"`
	Code       string        `json:"code"`
	PushedAt   time.Time     `json:"pushedAt"`
	Lines      []ChallanLine `json:"lines"`
}

// ChallanLine records the quantity of one line delivered in one push.
type ChallanLine struct {
	ProductID    int64 `json:"productId"`
	SubProductID int64 `json:"subProductId"`
	Quantity     int64 `json:"quantity"`
}

// Return tracks quantity that was already delivered but is no longer owed
// because the sale was edited down. One record per (sale, product, sub),
// accumulating across edits until the physical return is received.
type Return struct {
	ID               int64     `json:"id"`
	SaleID           int64     `json:"saleId"`
	ProductID        int64     `json:"productId"`
	SubProductID     int64     `json:"subProductId"`
	QuantityReturned int64     `json:"quantityReturned"`
	Received         bool      `json:"received"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// StatusView is the aggregate read model consumed by the sales UI and the
// daily snapshot job.
type StatusView struct {
	SaleID         int64  `json:"saleId"`
	Status         Status `json:"status"`
	AllDelivered   bool   `json:"allDelivered"`
	OnOrderPresent bool   `json:"onOrderPresent"`
}
