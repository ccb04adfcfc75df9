package intent

import "errors"

// Rejection and failure codes surfaced to operator tooling. Authorization
// failures come back as structured decisions, never panics.
var (
	ErrInvalidSchema    = errors.New("INVALID_SCHEMA")
	ErrDuplicateID      = errors.New("DUPLICATE_ID")
	ErrUnauthorizedKey  = errors.New("UNAUTHORIZED_KEY")
	ErrInvalidSignature = errors.New("INVALID_SIGNATURE")
	ErrIntentNotFound   = errors.New("INTENT_NOT_FOUND")
	ErrInvalidStatus    = errors.New("INVALID_STATUS")
	ErrReasonRequired   = errors.New("REASON_REQUIRED")
	ErrNoExecutor       = errors.New("NO_EXECUTOR")
)
