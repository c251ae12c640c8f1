package support

import (
	"errors"
	"fmt"
)

// Error taxonomy shared across the API, stores and workers.
var (
	// ErrValidation marks bad caller input.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized marks a missing or invalid webhook signature or API key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound marks an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrPipeline marks a failure inside the agent pipeline.
	ErrPipeline = errors.New("pipeline failed")
	// ErrStoreUnavailable marks an unreachable queue store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidTransition marks a status change that would move a job backwards.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrJobExists marks a duplicate job id on create.
	ErrJobExists = errors.New("job already exists")
)

// Errorf wraps kind with a formatted message so errors.Is(err, kind) holds.
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Unavailable wraps a backend error as ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
