package match

import (
	"errors"
	"fmt"

	"github.com/park285/Cheese-Challenge-bot/internal/reaction"
	"github.com/park285/Cheese-Challenge-bot/internal/store"
)

var (
	ErrInvalidRequest = errf("invalid request")
	ErrNotFound       = errf("session not found")
	ErrConflict       = errf("session already exists")
	ErrForbidden      = errf("requester is not a participant")
	// ErrTimedOut is a terminal outcome of a wait, not a failure.
	ErrTimedOut = reaction.ErrTimedOut
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// RequestError carries the reason a request was rejected. It matches
// ErrInvalidRequest under errors.Is.
type RequestError struct {
	Detail string
}

func (e *RequestError) Error() string        { return "invalid request: " + e.Detail }
func (e *RequestError) Is(target error) bool { return target == ErrInvalidRequest }

func invalid(format string, args ...any) error {
	return &RequestError{Detail: fmt.Sprintf(format, args...)}
}

// fromStore maps store outcomes onto the workflow taxonomy; StorageError
// passes through untouched.
func fromStore(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrConflict
	}
	return err
}

// IsStorage reports whether err came from a storage backend failure.
func IsStorage(err error) bool {
	var se *store.StorageError
	return errors.As(err, &se)
}
