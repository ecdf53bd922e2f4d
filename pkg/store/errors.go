package store

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds returned by GraphStorage. Use errors.Is to test for them; every
// error surfaced by the store is an *OpError wrapping one of these or a
// context error.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidReference   = errors.New("invalid reference")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// OpError records the operation and key that failed.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s %q: %s", e.Op, e.Key, e.Err.Error())
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Unavailable marks a backend transport failure so it surfaces as
// ErrBackendUnavailable while keeping the original cause in the chain.
func Unavailable(err error) error {
	if err == nil || isKind(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}

func isKind(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, errors.ErrUnsupported) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// wrap attaches op and key to err. Errors that are not one of the known kinds
// are treated as backend failures.
func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: op, Key: key, Err: Unavailable(err)}
}

func invalidArgument(op, key, format string, args ...any) error {
	return &OpError{Op: op, Key: key, Err: fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))}
}
