package refresh

import (
	"errors"
)

var (
	// ErrNoRefreshToken is returned when a refresh is requested but the
	// store holds no refresh token. No network call is made.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshFailed is returned to every caller of a refresh cycle whose
	// network call failed. The tokens have been cleared.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// Error is the error handed to every caller of one refresh cycle.
// All callers of the same cycle receive the same *Error value.
type Error struct {
	Cycle uint64
	Err   error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CycleOf returns the refresh cycle an error belongs to.
func CycleOf(err error) (uint64, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Cycle, true
	}
	return 0, false
}
