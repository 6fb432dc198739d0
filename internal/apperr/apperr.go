// Package apperr defines the error kinds shared by the HTTP edge and the job worker.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown                    Kind = ""
	KindScopeMissing               Kind = "ScopeMissing"
	KindScopeInvalid               Kind = "ScopeInvalid"
	KindUnauthorized               Kind = "Unauthorized"
	KindForbidden                  Kind = "Forbidden"
	KindValidation                 Kind = "ValidationError"
	KindNotFound                   Kind = "NotFound"
	KindTemplateVariableUnresolved Kind = "TemplateVariableUnresolved"
	KindParseFailure               Kind = "ParseFailure"
	KindTransientUpstream          Kind = "TransientUpstream"
	KindConflict                   Kind = "Conflict"
	KindQuotaExceeded              Kind = "QuotaExceeded"
	KindCancelled                  Kind = "Cancelled"
	KindInternal                   Kind = "Internal"
)

// Error carries a kind tag, a short machine code and an optional cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by kind and code, so sentinels compare by identity of meaning.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func NotFound(code string) *Error {
	return New(KindNotFound, code, "not found")
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

func Forbidden(code string) *Error {
	return New(KindForbidden, code, "forbidden")
}

func Transient(code string, err error) *Error {
	return Wrap(KindTransientUpstream, code, err)
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var appErr *Error
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientUpstream
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// CodeOf returns the machine code of the first *Error in the chain.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Code
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether a job failing with err should be retried.
// Unknown errors are retried since they usually come from storage or the network.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransientUpstream, KindConflict, KindUnknown, KindInternal:
		return true
	default:
		return false
	}
}
