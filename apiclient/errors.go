package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized matches any *StatusError carrying a 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired is returned when a request cannot be completed
	// because the session could not be renewed.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnsupportedLocale is returned by SetLocale for unknown locales.
	ErrUnsupportedLocale = errors.New("unsupported locale")
)

// StatusError is a non-2xx response from the API. It is produced at the
// transport boundary; callers never inspect raw responses to detect 401s.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unauthorized reports whether the API rejected the credentials.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.Unauthorized()
}
