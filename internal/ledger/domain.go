package ledger

import (
	"errors"
	"time"
)

// ProductKind distinguishes flat products from composed sets.
type ProductKind string

const (
	// KindIndividual is a product tracked by a single counter row.
	KindIndividual ProductKind = "INDIVIDUAL"
	// KindSet is a product composed of independently tracked sub-products.
	KindSet ProductKind = "SET"
)

// Product is a sellable item. Individual products own exactly one Unit; set
// products own one Unit per sub-product.
type Product struct {
	ID        int64
	Code      string
	Name      string
	Kind      ProductKind
	CreatedAt time.Time
	Units     []Unit
}

// Unit is one independently tracked stock counter: the single counter of an
// individual product, or one sub-product of a set. Balance is derived as
// Quantity - Sales and only this package recomputes it.
type Unit struct {
	ID          int64
	ProductID   int64
	Name        string
	RequiredQty int64 // units needed per complete set; 0 for individual products
	Quantity    int64 // total ever stocked
	InStore     int64 // physically present
	Sales       int64 // cumulative reserved via sale bookings
	Balance     int64 // Quantity - Sales
	UpdatedAt   time.Time
}

// Ref identifies a unit. SubProductID is the unit row id for set sub-products
// and zero for individual products.
type Ref struct {
	ProductID    int64
	SubProductID int64
}

// MovementType enumerates ledger counter changes.
type MovementType string

const (
	// MovementReserve increments Sales (sale booking).
	MovementReserve MovementType = "RESERVE"
	// MovementRelease decrements Sales (rollback/deletion).
	MovementRelease MovementType = "RELEASE"
	// MovementRestock increments Quantity and InStore.
	MovementRestock MovementType = "RESTOCK"
	// MovementInStore adjusts InStore only (dispatch, takeaway, return receipt).
	MovementInStore MovementType = "IN_STORE"
)

// Movement is an append-only record of a single counter change.
type Movement struct {
	ID           int64
	ProductID    int64
	SubProductID int64
	Type         MovementType
	Qty          int64
	RefModule    string
	RefID        string
	Note         string
	PostedAt     time.Time
}

// MovementMeta carries provenance for a mutation.
type MovementMeta struct {
	RefModule string
	RefID     string
	Note      string
	ActorID   int64
}

// BrokenSetReport describes how many complete sets are currently assemblable
// for a set product, and the per-sub-product leftover/shortfall.
type BrokenSetReport struct {
	ProductID       int64
	MaxCompleteSets int64
	TargetSets      int64
	Items           []BrokenSetItem
	ComputedAt      time.Time
}

// BrokenSetItem is one sub-product row of a broken set report.
type BrokenSetItem struct {
	SubProductID int64
	Name         string
	RequiredQty  int64
	Balance      int64
	Leftover     int64 // units left over after assembling MaxCompleteSets
	Shortfall    int64 // units missing to reach TargetSets
}

// ErrSubProductRequired is returned when a set product is addressed without a
// sub-product reference.
var ErrSubProductRequired = errors.New("ledger: sub-product required for set product")

// ErrSubProductUnexpected is returned when an individual product is addressed
// with a sub-product reference.
var ErrSubProductUnexpected = errors.New("ledger: product has no sub-products")
