package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/argus-sre/argus/internal/persistence"
	"github.com/argus-sre/argus/internal/sessionstore"
)

// ValidationError marks a request as structurally invalid (spec.md §7:
// validation errors map to 400). Grounded on tarsy's
// services.ValidationError.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// conflictError marks a request that is well-formed but not applicable to
// the session's current state (e.g. cancelling a terminal session).
type conflictError struct {
	msg string
}

func (e *conflictError) Error() string { return e.msg }

// ErrConflict builds a 409-mapped error with msg.
func ErrConflict(msg string) error { return &conflictError{msg: msg} }

// mapServiceError maps an internal error to an echo.HTTPError per spec.md
// §7's status-code table. Grounded on tarsy's pkg/api.mapServiceError.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}

	var conflict *conflictError
	if errors.As(err, &conflict) {
		return echo.NewHTTPError(http.StatusConflict, conflict.Error())
	}
	if errors.Is(err, sessionstore.ErrConflict) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	if errors.Is(err, sessionstore.ErrNotFound) || errors.Is(err, persistence.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if errors.Is(err, sessionstore.ErrResourceExhausted) {
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	}

	slog.Error("unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
