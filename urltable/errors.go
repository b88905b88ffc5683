package urltable

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch on it.
type Kind int

// Error kinds.
const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown Kind = iota

	// KindConfig covers bind-time configuration errors other than the
	// argument count and host policy.
	KindConfig

	// KindArgumentCount reports a table declaration with the wrong number
	// of arguments.
	KindArgumentCount

	// KindHostNotAllowed reports a locator rejected by the host filter.
	KindHostNotAllowed

	// KindTransport covers network failures in any phase.
	KindTransport

	// KindDecode covers malformed data on the read path.
	KindDecode

	// KindEncode covers unencodable values on the write path.
	KindEncode

	// KindConstraint reports a written row that violates a table constraint.
	KindConstraint

	// KindLifecycle reports a session used after it became terminal.
	KindLifecycle
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindArgumentCount:
		return "argument count"
	case KindHostNotAllowed:
		return "host not allowed"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindEncode:
		return "encode"
	case KindConstraint:
		return "constraint"
	case KindLifecycle:
		return "lifecycle"
	default:
		return "unknown"
	}
}

// Error is the classified error returned by urltable operations.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return "urltable: " + e.Err.Error()
	}
	return "urltable: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// wrapErr classifies err unless it already carries a kind.
func wrapErr(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// -----------------------------------------------------------------------------
// Sentinels
// -----------------------------------------------------------------------------

// Error sentinel values for common conditions.
var (
	// ErrArgumentCount indicates a declaration without 2 or 3 arguments.
	ErrArgumentCount = errors.New("URL engine requires 2 or 3 arguments: url, format name and optional compression method")

	// ErrHostNotAllowed indicates a locator rejected by the host filter.
	ErrHostNotAllowed = errors.New("host not allowed")

	// ErrSessionClosed indicates a read or write session used after it
	// became terminal.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnknownFormat indicates a format name with no registered codec.
	ErrUnknownFormat = errors.New("unknown format")

	// ErrUnknownCompression indicates an unrecognized compression method.
	ErrUnknownCompression = errors.New("unknown compression method")

	// ErrUnknownScheme indicates a locator scheme with no transport.
	ErrUnknownScheme = errors.New("unknown locator scheme")

	// ErrNotFound indicates the addressed resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTooManyRedirects indicates the redirect limit was exceeded.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrConstraintViolation indicates a row failed a table constraint.
	ErrConstraintViolation = errors.New("constraint violation")
)
