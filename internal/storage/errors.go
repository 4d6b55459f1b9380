package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the provider has no object under the key.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey rejects empty, absolute and traversing keys.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrAccessDenied covers provider permission failures and expired or
	// tampered local links.
	ErrAccessDenied = errors.New("access denied")
)

// StorageError records which operation failed for which original.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsInvalidKey reports whether err was caused by a malformed key. Asset
// registration surfaces these as validation failures.
func IsInvalidKey(err error) bool {
	return errors.Is(err, ErrInvalidKey)
}

// IsAccessDenied reports whether a link or provider call was refused.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
