package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/baseline/internal/adapters/repository"
	"github.com/okian/baseline/internal/app"
	"github.com/okian/baseline/internal/domain/catalog"
	"github.com/okian/baseline/internal/domain/profile"
	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/internal/domain/scoring"
)

// ErrBadRequest marks malformed requests.
var ErrBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// classify returns the status and error code for err.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, profile.ErrUserNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, catalog.ErrTestNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, profile.ErrUserExists):
		return http.StatusConflict, "exists"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, scoring.ErrInvalidArgument),
		errors.Is(err, result.ErrInvalidID),
		errors.Is(err, profile.ErrInvalidName),
		errors.Is(err, profile.ErrInvalidKey),
		errors.Is(err, profile.ErrInvalidValue),
		errors.Is(err, catalog.ErrUnsupportedIdiom):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, app.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
