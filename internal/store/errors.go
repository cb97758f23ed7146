// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("store: conflict")

	// ErrIntegrity marks failures that leave the security subsystem unable to
	// guarantee correctness: the store could not be read or written, or an
	// audit record could not be made durable. Callers must fail the
	// enclosing operation rather than continue.
	ErrIntegrity = errors.New("security integrity failure")
)

// IntegrityError wraps a store failure observed by a security component.
type IntegrityError struct {
	Op  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrIntegrity, e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrIntegrity) hold for every IntegrityError.
func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// Integrity wraps err as an IntegrityError for op. It returns nil for a nil
// err and leaves errors that are already integrity failures unchanged.
func Integrity(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrIntegrity) {
		return err
	}
	return &IntegrityError{Op: op, Err: err}
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
