package service

import (
	"errors"
	"fmt"

	"procurement/internal/repository"

	"github.com/google/uuid"
)

// Outcome classes returned by the engine. Callers match them with errors.Is.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state")
	ErrLockTimeout  = errors.New("lock timeout, retry later")
)

// storeError translates repository errors for the record described by what.
func storeError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case isOutcome(err):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, repository.ErrLockTimeout):
		return fmt.Errorf("%w: %s", ErrLockTimeout, what)
	case errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func isOutcome(err error) bool {
	for _, target := range []error{ErrForbidden, ErrNotFound, ErrConflict, ErrValidation, ErrInvalidState, ErrLockTimeout} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func parseID(id, what string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s id %q", ErrValidation, what, id)
	}
	return parsed, nil
}
