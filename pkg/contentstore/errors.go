package contentstore

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccessDenied indicates the principal lacks permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrSessionClosed indicates use of a session after Close.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnavailable indicates the backing service is unavailable.
	ErrUnavailable = errors.New("store unavailable")
)

// Backend identifies a store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
	BackendS3     Backend = "s3"
)

// String returns the string representation of the backend.
func (b Backend) String() string {
	return string(b)
}

// StoreError wraps backend-specific errors with context.
type StoreError struct {
	// Op is the operation that failed (e.g., "Resolve", "Commit").
	Op string

	// Backend is the store backend.
	Backend Backend

	// Path is the entity path, if applicable.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Backend, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates an entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsUnavailable returns true if the error indicates the store is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
