package shared

import "errors"

// Error taxonomy shared by the stock-facing services. Every mutating operation
// fails with one of these (possibly wrapped) so callers and the HTTP layer can
// distinguish validation failures from stock violations.
var (
	// ErrNotFound indicates a referenced product, sub-product, sale, delivery
	// or return does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates a reservation would drive a product's
	// balance negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidQuantity indicates a zero, negative or out-of-range quantity.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrExceedsQuota indicates a dispatch beyond the remaining decided quota.
	ErrExceedsQuota = errors.New("exceeds remaining dispatch quota")
	// ErrDuplicateOperation indicates an operation already applied, e.g. a
	// return already marked received.
	ErrDuplicateOperation = errors.New("operation already applied")
)
