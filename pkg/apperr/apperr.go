// Package apperr defines the error taxonomy shared by the entity CRUD
// engine and the scheduling engine. Services return *Error values tagged
// with a Kind; the HTTP layer maps kinds to status codes. Services never
// map to protocol codes themselves.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for the caller.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnknownEntity
	KindInvalidQuery
	KindValidation
	KindNotFound
	KindInvalidTransition
	KindSlotConflict
	KindOutsideWorkingHours
	KindDependencyTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUnknownEntity:
		return "unknown_entity"
	case KindInvalidQuery:
		return "invalid_query"
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindSlotConflict:
		return "slot_conflict"
	case KindOutsideWorkingHours:
		return "outside_working_hours"
	case KindDependencyTimeout:
		return "dependency_timeout"
	default:
		return "unknown"
	}
}

// FieldError names a single invalid field inside a validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the concrete error type carried across the core.
type Error struct {
	Kind    Kind         `json:"kind"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// E builds an error of the given kind.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a KindValidation error carrying every failing field.
// Callers must accumulate all field errors before calling, so that one
// response fixes one round trip.
func Validation(fields []FieldError) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// KindOf extracts the Kind from err, unwrapping as needed. A context
// deadline counts as a dependency timeout so that store-level timeouts
// surface uniformly.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDependencyTimeout
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to an HTTP status code. Lives here so every
// handler maps identically; the services themselves stay protocol-free.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnknownEntity, KindNotFound:
		return http.StatusNotFound
	case KindInvalidQuery, KindValidation, KindOutsideWorkingHours:
		return http.StatusBadRequest
	case KindInvalidTransition, KindSlotConflict:
		return http.StatusConflict
	case KindDependencyTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
