// Package domain errors.go contains sentinel errors
package domain

import "errors"

// Sentinel domain-level errors reused by higher layers.
var (
	ErrInvalidID = errors.New("invalid file id")

	// ErrNotFound covers both an unknown id and a blob missing behind existing metadata.
	ErrNotFound = errors.New("file not found")

	// ErrPasswordRequired is returned when a protected object is accessed without a password.
	ErrPasswordRequired = errors.New("password required")

	// ErrUnauthorized is returned when the supplied password does not match.
	ErrUnauthorized = errors.New("password mismatch")

	// ErrStorageUnavailable reports that a new object could not be durably recorded.
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrEmptyFile    = errors.New("empty file")
	ErrSizeExceeded = errors.New("size exceeded")
)
