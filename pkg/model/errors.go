package model

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy from spec.md §7. Every component-level error
// returned across a package boundary wraps one of these sentinels so
// callers can branch with errors.Is instead of string matching.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindDuplicate         Kind = "duplicate"
	KindNotFound          Kind = "not_found"
	KindTransient         Kind = "transient"
	KindCircuitOpen       Kind = "circuit_open"
	KindPermanentDelivery Kind = "permanent_delivery"
	KindFatal             Kind = "fatal"
)

// Sentinels for errors.Is checks; GatewayError.Is matches against these.
var (
	ErrValidation        = &GatewayError{Kind: KindValidation, Message: "validation"}
	ErrDuplicate         = &GatewayError{Kind: KindDuplicate, Message: "duplicate"}
	ErrNotFound          = &GatewayError{Kind: KindNotFound, Message: "not found"}
	ErrTransient         = &GatewayError{Kind: KindTransient, Message: "transient"}
	ErrCircuitOpen       = &GatewayError{Kind: KindCircuitOpen, Message: "circuit open"}
	ErrPermanentDelivery = &GatewayError{Kind: KindPermanentDelivery, Message: "permanent delivery failure"}
	ErrFatal             = &GatewayError{Kind: KindFatal, Message: "fatal"}
)

// GatewayError carries a Kind plus a human message and optional wrapped cause.
type GatewayError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// Is matches by Kind only, so errors.Is(err, model.ErrDuplicate) works
// regardless of message/cause.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds a GatewayError of the given kind.
func NewError(kind Kind, msg string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Message: msg, Cause: cause}
}

// IsKind reports whether err (or any error it wraps) carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}
