package core

import (
	"errors"
	"fmt"

	"github.com/edvin/certfleet/internal/store"
)

// Sentinel errors for the service layer. Callers branch with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalid       = errors.New("invalid")
	ErrConflict      = errors.New("conflict")
)

func notFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func forbiddenf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrForbidden)...)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalid)...)
}

// isStoreNotFound distinguishes a missing row from a real storage failure.
func isStoreNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
