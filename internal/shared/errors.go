package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks user-visible input or state errors. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrDataStore wraps failures of the underlying store.
	ErrDataStore = errors.New("data store failure")
)

// ErrorKind classifies an error into the treasury taxonomy.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindDataStore  ErrorKind = "data_store"
	KindUnknown    ErrorKind = "unknown"
)

// Validationf builds an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// DataStore wraps err with ErrDataStore unless it is already classified.
func DataStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDataStore, op, err)
}

// KindOf reports the taxonomy kind of err.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDataStore):
		return KindDataStore
	default:
		return KindUnknown
	}
}
