// Package kinderrors defines the error taxonomy shared by every pipeline
// component: a closed set of Kinds plus a thin wrapper that carries the
// failing operation and the underlying cause.
package kinderrors

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy values a component may surface. It is never a
// Go type name; callers branch on Kind, not on concrete error types.
type Kind string

const (
	InputInvalid          Kind = "InputInvalid"
	StorageUnavailable     Kind = "StorageUnavailable"
	RecordStoreUnavailable Kind = "RecordStoreUnavailable"
	OCRTransient           Kind = "OCRTransient"
	OCRPermanent           Kind = "OCRPermanent"
	LLMUnavailable         Kind = "LLMUnavailable"
	ExtractionMalformed    Kind = "ExtractionMalformed"
	InsightMalformed       Kind = "InsightMalformed"
	InvariantViolation     Kind = "InvariantViolation"
	NotFound               Kind = "NotFound"
	NotRetryable           Kind = "NotRetryable"
	Timeout                Kind = "Timeout"
)

// Error wraps a Kind, the operation that produced it, and the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op with the given kind and cause. err may be nil.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind carried by err, or "" if err does not wrap one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries exactly the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
