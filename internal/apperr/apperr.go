// Package apperr classifies failures crossing a component boundary into a small set of kinds.
// Always import it as apperr.
package apperr

import (
	stderrs "errors"
	"fmt"
	"net/http"
)

// Kind is the failure class of an *Error
type Kind uint8

const (
	// KindUnknown is for unclassified errors
	KindUnknown Kind = iota

	// KindAuthentication is for missing, invalid or expired credentials
	KindAuthentication

	// KindConfiguration is for missing or malformed per-tenant engine configuration
	KindConfiguration

	// KindValidation is for bad request input
	KindValidation

	// KindNotFound is for missing resources
	KindNotFound

	// KindConstruction is for engine factory failures
	KindConstruction

	// KindTeardown is for engine teardown failures; never surfaced to clients
	KindTeardown

	// KindDedupConsistency is for an upsert that acknowledged nothing and could not be re-read
	KindDedupConsistency

	// KindStore is for relational store failures
	KindStore

	// KindUnavailable is for transient dependency failures
	KindUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindAuthentication:   "authentication",
	KindConfiguration:    "configuration",
	KindValidation:       "validation",
	KindNotFound:         "not_found",
	KindConstruction:     "construction",
	KindTeardown:         "teardown",
	KindDedupConsistency: "dedup_consistency",
	KindStore:            "store",
	KindUnavailable:      "unavailable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// HTTPStatusOf maps a Kind to the status a handler writes
func HTTPStatusOf(k Kind) int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindConfiguration, KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConstruction:
		return http.StatusBadGateway
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error with an optional operation tag and wrapped cause
type Error struct {
	kind Kind
	msg  string
	op   string
	orig error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.orig)
	}
	return e.msg
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error { return e.orig }

// Kind returns the failure class
func (e *Error) Kind() Kind { return e.kind }

// Message returns the client-facing message without the cause
func (e *Error) Message() string { return e.msg }

// Op returns the operation label, if set
func (e *Error) Op() string { return e.op }

// New returns an *Error of kind k
func New(k Kind, msg string) error { return &Error{kind: k, msg: msg} }

// Newf is New with formatting
func Newf(k Kind, format string, a ...any) error {
	return &Error{kind: k, msg: fmt.Sprintf(format, a...)}
}

// Wrap classifies orig as kind k. A nil orig yields nil.
func Wrap(orig error, k Kind, msg string) error {
	if orig == nil {
		return nil
	}
	return &Error{kind: k, msg: msg, orig: orig}
}

// Wrapf is Wrap with formatting
func Wrapf(orig error, k Kind, format string, a ...any) error {
	if orig == nil {
		return nil
	}
	return &Error{kind: k, msg: fmt.Sprintf(format, a...), orig: orig}
}

// WithOp returns a copy of err tagged with op. Foreign errors are returned unchanged.
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

// As returns the outermost *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindUnknown for foreign errors
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.kind
	}
	return KindUnknown
}

// Is reports whether err is classified as k
func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// HTTPStatus returns the mapped status for any error
func HTTPStatus(err error) int { return HTTPStatusOf(KindOf(err)) }

// PublicMessage is the text safe to show a client. Server-side failures hide their cause.
func PublicMessage(err error) string {
	e, ok := As(err)
	if !ok {
		return "internal server error"
	}
	if HTTPStatusOf(e.kind) >= http.StatusInternalServerError {
		return e.msg
	}
	if e.orig != nil {
		return e.Error()
	}
	return e.msg
}
