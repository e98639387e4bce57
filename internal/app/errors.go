package app

import (
	"errors"
	"fmt"
	"log"

	"taskhub/api/internal/store"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindValidation
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindConflict:
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}

// Error is the only error type service methods return.
type Error struct {
	Kind    ErrorKind
	Message string
	Details any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf reports the kind of err, treating anything that is not an *Error as
// internal.
func KindOf(err error) ErrorKind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func unauthorized() *Error {
	return &Error{Kind: KindUnauthorized, Message: "Unauthorized"}
}

func forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func notFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// internal logs err in full and returns a generic error for the caller.
func internal(err error) *Error {
	log.Printf("app: internal error: %v", err)
	return &Error{Kind: KindInternal, Message: "Something went wrong"}
}

// storeError translates a store failure. Missing rows and unique violations
// become NotFound and Conflict with the given messages; anything else is
// internal.
func storeError(err error, notFoundMsg, conflictMsg string) *Error {
	switch {
	case notFoundMsg != "" && errors.Is(err, store.ErrNotFound):
		return notFound(notFoundMsg)
	case conflictMsg != "" && errors.Is(err, store.ErrConflict):
		return conflict(conflictMsg)
	default:
		return internal(err)
	}
}
