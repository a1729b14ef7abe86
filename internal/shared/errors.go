package shared

import "errors"

var (
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a malformed or incomplete request.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a request-shape conflict detected after inspecting payload contents.
	ErrConflict = errors.New("conflict")
	// ErrTransient indicates the store aborted the atomic scope for a retryable reason.
	ErrTransient = errors.New("transient store error")
)

// UserSafeMessage returns a message suitable for API consumers. Wrapped
// validation and business errors carry precise text; everything else is
// collapsed into a generic failure so store internals do not leak.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return err.Error()
	case errors.Is(err, ErrTransient):
		return "the operation could not be completed, please try again"
	default:
		return "internal error"
	}
}
