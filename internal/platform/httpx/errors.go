package httpx

import (
	"errors"
	"net/http"

	"github.com/merkato-erp/merkato/internal/shared"
)

// RespondError maps shared domain errors to HTTP responses using RFC7807.
// Handlers map their module-specific errors first and fall back here.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrTransient):
		Problem(w, http.StatusServiceUnavailable, "Temporarily Unavailable", shared.UserSafeMessage(err))
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
