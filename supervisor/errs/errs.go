// Package errs gives the §7 error-kind taxonomy concrete Go types so
// callers can errors.As/errors.Is against them instead of matching on
// strings.
package errs

import "fmt"

type Kind string

const (
	KindConfig            Kind = "config"
	KindPrinterConnection Kind = "printer_connection"
	KindAuth              Kind = "auth"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindTimeout           Kind = "timeout"
	KindInternal          Kind = "internal"
)

// Error is the common shape for every typed error this module raises.
// Wrap an underlying cause with Wrap/New; match on Kind with errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the monitor/workqueue should count this error
// against its consecutive-failure/backoff tracking (§5, §7).
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindPrinterConnection, KindTimeout:
		return true
	default:
		return false
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func ConfigError(format string, args ...any) *Error {
	return New(KindConfig, fmt.Sprintf(format, args...))
}

func PrinterConnectionError(cause error, printerID string) *Error {
	return Wrap(KindPrinterConnection, fmt.Sprintf("connecting to printer %q", printerID), cause)
}

func AuthError(cause error, printerID string) *Error {
	return Wrap(KindAuth, fmt.Sprintf("authenticating to printer %q", printerID), cause)
}

func NotFound(what, id string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s %q not found", what, id))
}

func InvalidTransition(from, to string, allowed []string) *Error {
	return New(KindInvalidTransition, fmt.Sprintf("cannot transition from %q to %q, allowed: %v", from, to, allowed))
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}

func Timeout(cause error, op string) *Error {
	return Wrap(KindTimeout, fmt.Sprintf("%s timed out", op), cause)
}

func Internal(cause error, message string) *Error {
	return Wrap(KindInternal, message, cause)
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
