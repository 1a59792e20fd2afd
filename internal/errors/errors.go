// Package errors holds the application error kinds shared by the CLI and
// the management server, and the JSON error envelope written by HTTP
// handlers.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/3leaps/treeaudit/pkg/contentstore"
)

// Kind classifies an application error.
type Kind string

const (
	KindInternal        Kind = "INTERNAL_ERROR"
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindNotFound        Kind = "NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindExternalService Kind = "SERVICE_UNAVAILABLE"
	KindUnauthorized    Kind = "UNAUTHORIZED"
)

// AppError is an error with a kind and an optional cause.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewExternalServiceError reports a dependency that could not be reached.
func NewExternalServiceError(msg string) error {
	return &AppError{Kind: KindExternalService, Message: msg}
}

// NewInvalidArgument reports bad caller input.
func NewInvalidArgument(msg string) error {
	return &AppError{Kind: KindInvalidArgument, Message: msg}
}

// NewConflict reports a request that conflicts with current state.
func NewConflict(msg string) error {
	return &AppError{Kind: KindConflict, Message: msg}
}

// WrapInternal wraps err as an internal error. A nil err yields nil.
func WrapInternal(_ context.Context, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &AppError{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of err. Store sentinels map onto kinds; anything
// else is internal.
func KindOf(err error) Kind {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Kind
	}
	switch {
	case contentstore.IsNotFound(err):
		return KindNotFound
	case contentstore.IsInvalidCredentials(err), contentstore.IsAccessDenied(err):
		return KindUnauthorized
	case contentstore.IsUnavailable(err):
		return KindExternalService
	}
	return KindInternal
}

// StatusCode maps a kind to its HTTP status.
func (k Kind) StatusCode() int {
	switch k {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindExternalService:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
