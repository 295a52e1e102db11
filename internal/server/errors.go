package server

import (
	"errors"
	"net/http"

	"github.com/mkramer/session-insights/internal/types"
)

// httpStatus maps pipeline errors onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
