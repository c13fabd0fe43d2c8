// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/jobtrack/internal/shared"
)

// ErrBadRequest marks bodies that could not be decoded.
var ErrBadRequest = errors.New("malformed request")

// RespondError maps domain errors to HTTP responses using RFC7807. Errors
// carrying several messages are listed in full so a client can show every
// violated condition at once.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		ProblemList(w, http.StatusNotFound, "Not Found", err)
	case errors.Is(err, shared.ErrValidation):
		ProblemList(w, http.StatusUnprocessableEntity, "Validation Failed", err)
	case errors.Is(err, shared.ErrInsufficientStock):
		ProblemList(w, http.StatusConflict, "Insufficient Stock", err)
	case errors.Is(err, shared.ErrReconciliation):
		ProblemList(w, http.StatusUnprocessableEntity, "Payment Mismatch", err)
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrLockBusy):
		Problem(w, http.StatusLocked, "Locked", err.Error())
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
