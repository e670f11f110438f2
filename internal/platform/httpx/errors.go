package httpx

import (
	"errors"
	"net/http"

	"github.com/timberline-erp/timberline/internal/shared"
)

// ErrValidation marks request payloads that failed structural validation.
var ErrValidation = errors.New("validation failed")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidQuantity):
		Problem(w, http.StatusBadRequest, "Invalid Quantity", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrExceedsQuota):
		Problem(w, http.StatusConflict, "Exceeds Quota", err.Error())
	case errors.Is(err, shared.ErrDuplicateOperation):
		Problem(w, http.StatusConflict, "Duplicate Operation", err.Error())
	case errors.Is(err, shared.ErrLockBusy):
		Problem(w, http.StatusConflict, "Locked", "another operation holds this entity, retry shortly")
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
