package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by the pipeline stage that produced it.
type Kind string

const (
	KindCrypto      Kind = "crypto"
	KindExport      Kind = "export"
	KindRemote      Kind = "remote"
	KindFallback    Kind = "fallback"
	KindPersistence Kind = "persistence"
	KindNotFound    Kind = "not_found"
	KindInvalidArg  Kind = "invalid_argument"
	KindConflict    Kind = "conflict"
	KindInternal    Kind = "internal"
)

// Sentinels usable with errors.Is to match any *Error of the same kind.
var (
	ErrCrypto      = &Error{Kind: KindCrypto}
	ErrExport      = &Error{Kind: KindExport}
	ErrRemote      = &Error{Kind: KindRemote}
	ErrFallback    = &Error{Kind: KindFallback}
	ErrPersistence = &Error{Kind: KindPersistence}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrInvalidArg  = &Error{Kind: KindInvalidArg}
	ErrConflict    = &Error{Kind: KindConflict}
)

// Error is the error type shared by every voicelog package.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
	Code    int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind so that errors.Is(err, ErrRemote) works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func New(kind Kind, code int, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
		Code:    code,
	}
}

// Crypto reports a decrypt/encrypt failure: tampered data, wrong key or a bad key store.
func Crypto(cause error, format string, args ...any) *Error {
	return New(KindCrypto, http.StatusInternalServerError, cause, format, args...)
}

// Export reports a trim/transcode failure.
func Export(cause error, format string, args ...any) *Error {
	return New(KindExport, http.StatusUnprocessableEntity, cause, format, args...)
}

// Remote reports a remote transcription failure: network, parse, empty transcript or missing credential.
func Remote(cause error, format string, args ...any) *Error {
	return New(KindRemote, http.StatusBadGateway, cause, format, args...)
}

// FallbackUnavailable reports that on-device recognition cannot run.
func FallbackUnavailable(cause error, format string, args ...any) *Error {
	return New(KindFallback, http.StatusServiceUnavailable, cause, format, args...)
}

// Persistence reports a failed store write.
func Persistence(cause error, format string, args ...any) *Error {
	return New(KindPersistence, http.StatusInternalServerError, cause, format, args...)
}

func NotFound(what string) *Error {
	return New(KindNotFound, http.StatusNotFound, nil, "%s not found", what)
}

func InvalidArg(arg string) *Error {
	return New(KindInvalidArg, http.StatusBadRequest, nil, "invalid argument: %s", arg)
}

// Conflict reports an operation refused because of the current state, such as
// an illegal status transition or a window that already has an attempt in flight.
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, http.StatusConflict, nil, format, args...)
}

// Wrap converts an arbitrary error into an *Error, keeping existing ones intact.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return New(KindInternal, http.StatusInternalServerError, err, "%s", message)
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
