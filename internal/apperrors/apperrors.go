package apperrors

import (
	"errors"
	"net/http"
)

// Error kinds. Callers wrap them with fmt.Errorf("...: %w", Err...) and the
// transport maps them with errors.Is.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidRole     = errors.New("invalid role")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")
)

var kinds = []struct {
	err    error
	status int
}{
	{ErrUnauthenticated, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
	{ErrNotFound, http.StatusNotFound},
	{ErrInvalidRole, http.StatusUnprocessableEntity},
	{ErrInvalidArgument, http.StatusBadRequest},
	{ErrConflict, http.StatusConflict},
}

// Kind returns the sentinel err wraps, or ErrInternal for anything else.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err
		}
	}
	return ErrInternal
}

// IsClient reports whether err is caused by the caller.
func IsClient(err error) bool {
	return Kind(err) != ErrInternal
}

// HTTPStatus maps err to a response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// PublicMessage is the text safe to return to a caller. Internal errors
// never expose their cause.
func PublicMessage(err error) string {
	if IsClient(err) {
		return err.Error()
	}
	return ErrInternal.Error()
}
