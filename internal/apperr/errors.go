// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package apperr

import (
	"context"
	"errors"
	"strings"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// Type categorizes errors for handling.
type Type int

const (
	TypeUnknown Type = iota
	TypeValidation
	TypeNetwork
	TypeTimeout
	TypeModelNotFound
	TypeModelDownload
)

// String returns the human-readable name of the error type.
func (t Type) String() string {
	switch t {
	case TypeValidation:
		return "validation error"
	case TypeNetwork:
		return "network error"
	case TypeTimeout:
		return "timeout"
	case TypeModelNotFound:
		return "model not found"
	case TypeModelDownload:
		return "model download error"
	default:
		return "error"
	}
}

// Error is the typed error returned across component boundaries.
type Error struct {
	Type    Type
	Op      string // originating operation, e.g. "ollama.Execute"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	// Relabelled errors render as "op: <inner error>".
	if _, typed := e.Cause.(*Error); typed && e.Message == "" {
		b.WriteString(e.Cause.Error())
		return b.String()
	}
	b.WriteString(e.Type.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// Validation returns a validation error. Validation errors are never retried.
func Validation(op, message string) *Error {
	return &Error{Type: TypeValidation, Op: op, Message: message}
}

// Network returns a network error wrapping the last transport failure.
func Network(op, message string, cause error) *Error {
	return &Error{Type: TypeNetwork, Op: op, Message: message, Cause: cause}
}

// Timeout returns a timeout error.
func Timeout(op string, cause error) *Error {
	return &Error{Type: TypeTimeout, Op: op, Message: "deadline exceeded", Cause: cause}
}

// ModelNotFound returns a model-not-found error.
func ModelNotFound(op, message string) *Error {
	return &Error{Type: TypeModelNotFound, Op: op, Message: message}
}

// ModelDownload returns a pull/delete failure.
func ModelDownload(op, message string, cause error) *Error {
	return &Error{Type: TypeModelDownload, Op: op, Message: message, Cause: cause}
}

// FromContext converts a context error into a typed error. Deadline
// expiry becomes a timeout; cancellation stays a plain wrapped error so
// callers can still match context.Canceled.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(op, err)
	}
	return &Error{Type: TypeUnknown, Op: op, Message: "cancelled", Cause: err}
}

// WithOp relabels err with op. Typed errors keep their type and gain the
// new operation name; untyped errors are wrapped as TypeUnknown.
func WithOp(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == op {
			return err
		}
		return &Error{Type: e.Type, Op: op, Message: "", Cause: err}
	}
	return &Error{Type: TypeUnknown, Op: op, Cause: err}
}

// =============================================================================
// INSPECTION
// =============================================================================

// TypeOf returns the type of the outermost typed error in err's chain.
// Wrappers created by WithOp report the type they were relabelled from.
func TypeOf(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return TypeUnknown
}

// Has reports whether any *Error in err's chain has type t.
func Has(err error, t Type) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Type == t {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return Has(err, TypeValidation) }

// IsNetwork checks if an error is a network error.
func IsNetwork(err error) bool { return Has(err, TypeNetwork) }

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool { return Has(err, TypeTimeout) }

// IsModelNotFound checks if an error is a model-not-found error.
func IsModelNotFound(err error) bool { return Has(err, TypeModelNotFound) }

// IsModelDownload checks if an error is a model download error.
func IsModelDownload(err error) bool { return Has(err, TypeModelDownload) }
