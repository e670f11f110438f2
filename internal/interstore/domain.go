package interstore

import "time"

// ImportItem is one product line requested from another store location. It
// carries a dispatch quota: Decided is reserved against the ledger when the
// item is created, Dispatched accumulates physical dispatches, and Remaining
// is the floor-zero difference.
type ImportItem struct {
	ID           int64     `json:"id"`
	StoreName    string    `json:"storeName"`
	ProductID    int64     `json:"productId"`
	SubProductID int64     `json:"subProductId"`
	Decided      int64     `json:"decidedToBeDispatched"`
	Dispatched   int64     `json:"alreadyDispatched"`
	Remaining    int64     `json:"remainingToBeDispatched"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Challan is one immutable dispatch document.
type Challan struct {
	ID           int64     `json:"id"`
	ItemID       int64     `json:"itemId"`
	Code         string    `json:"code"`
	Quantity     int64     `json:"quantity"`
	DispatchedAt time.Time `json:"dispatchedAt"`
}

// ReturnStatus tracks receipt progress of a store return.
type ReturnStatus string

const (
	ReturnPending  ReturnStatus = "PENDING"
	ReturnPartial  ReturnStatus = "PARTIALLY_RECEIVED"
	ReturnReceived ReturnStatus = "RECEIVED"
)

// StoreReturn records quantity dispatched beyond a revised quota, owed back
// from the other store. One record per item, accumulating across revisions.
type StoreReturn struct {
	ID               int64        `json:"id"`
	ItemID           int64        `json:"itemId"`
	ProductID        int64        `json:"productId"`
	SubProductID     int64        `json:"subProductId"`
	QuantityReturned int64        `json:"quantityReturned"`
	QuantityReceived int64        `json:"quantityReceived"`
	Status           ReturnStatus `json:"status"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}
