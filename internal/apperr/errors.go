package apperr

import (
	"errors"
	"net/http"
)

// Error classes shared by every entry point. Wrap them with fmt.Errorf("...: %w", ErrX)
// and classify with errors.Is.
var (
	// ErrInvalidInput covers malformed phone numbers and missing fields. Never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound covers unknown subscribers, subscriptions and transactions.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when a webhook signature does not verify.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTransientProvider is a send/charge timeout or provider 5xx. Retried on the next sweep.
	ErrTransientProvider = errors.New("transient provider failure")
	// ErrInternalInconsistency marks broken references, e.g. a ledger entry without its subscription.
	ErrInternalInconsistency = errors.New("internal inconsistency")
)

// HTTPStatus maps an error to the status code returned to callers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTransientProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err should be retried on a later tick.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientProvider)
}
