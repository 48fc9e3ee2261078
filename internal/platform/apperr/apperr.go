package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies an error for callers and for HTTP status mapping.
type Kind string

const (
	KindBadParameter           Kind = "BadParameter"
	KindUnauthorized           Kind = "Unauthorized"
	KindForbidden              Kind = "Forbidden"
	KindNotFound               Kind = "NotFound"
	KindIllegalTransition      Kind = "IllegalTransition"
	KindCaseLocked             Kind = "CaseLocked"
	KindEmptyMethod            Kind = "EmptyMethod"
	KindDuplicateCode          Kind = "DuplicateCode"
	KindConcurrentModification Kind = "ConcurrentModification"
	KindCounterUnavailable     Kind = "CounterUnavailable"
	KindStoreTimeout           Kind = "StoreTimeout"
	KindInternal               Kind = "Internal"
)

var statusByKind = map[Kind]int{
	KindBadParameter:           http.StatusBadRequest,
	KindEmptyMethod:            http.StatusBadRequest,
	KindUnauthorized:           http.StatusUnauthorized,
	KindForbidden:              http.StatusForbidden,
	KindNotFound:               http.StatusNotFound,
	KindIllegalTransition:      http.StatusConflict,
	KindCaseLocked:             http.StatusConflict,
	KindDuplicateCode:          http.StatusConflict,
	KindConcurrentModification: http.StatusConflict,
	KindCounterUnavailable:     http.StatusServiceUnavailable,
	KindStoreTimeout:           http.StatusServiceUnavailable,
	KindInternal:               http.StatusInternalServerError,
}

// Status returns the HTTP status code for a kind. Unknown kinds map to 500.
func Status(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is the tagged error returned by every core operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, apperr.NotFound(""))
// style checks work without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func BadParameter(format string, args ...interface{}) *Error {
	return New(KindBadParameter, format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return New(KindUnauthorized, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return New(KindForbidden, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

// IllegalTransition names both ends of a rejected state change.
func IllegalTransition(from, to string, reason string) *Error {
	if reason == "" {
		return New(KindIllegalTransition, "transition %q -> %q is not allowed", from, to)
	}
	return New(KindIllegalTransition, "transition %q -> %q is not allowed: %s", from, to, reason)
}

func CaseLocked(code, state string) *Error {
	return New(KindCaseLocked, "case %s is in state %q and its result can no longer be edited", code, state)
}

func EmptyMethod() *Error {
	return New(KindEmptyMethod, "method list contains only empty entries")
}

func DuplicateCode(code string) *Error {
	return New(KindDuplicateCode, "code %s already exists", code)
}

func ConcurrentModification(code string) *Error {
	return New(KindConcurrentModification, "%s was modified concurrently, reload and retry", code)
}

func CounterUnavailable(err error) *Error {
	return Wrap(KindCounterUnavailable, err, "consecutive counter unavailable")
}

func Internal(err error, format string, args ...interface{}) *Error {
	return Wrap(KindInternal, err, format, args...)
}

// KindOf extracts the kind from err, defaulting to Internal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// FromStore translates a storage error into a tagged error. what names the entity
// for the not-found message. Errors that are already tagged pass through.
func FromStore(err error, what string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound("%s not found", what)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindStoreTimeout, err, "store call exceeded its deadline")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return Wrap(KindDuplicateCode, err, "%s violates a unique constraint", what)
		case "57014":
			return Wrap(KindStoreTimeout, err, "store call was cancelled")
		}
	}
	return Internal(err, "store error on %s", what)
}
