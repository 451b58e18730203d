// Package apperrors defines the error taxonomy shared by the roster services.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error independently of its message.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindNotFound
	KindForbidden
	// KindInvariant marks actions that would break a structural invariant
	// no matter who attempts them.
	KindInvariant
	KindRateLimited
	KindUniquenessExhausted
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvariant:
		return "invariant_violation"
	case KindRateLimited:
		return "rate_limited"
	case KindUniquenessExhausted:
		return "uniqueness_exhausted"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is; matching is by kind only.
var (
	ErrUnauthenticated     = New(KindUnauthenticated, "authentication required")
	ErrNotFound            = New(KindNotFound, "not found")
	ErrForbidden           = New(KindForbidden, "forbidden")
	ErrInvariant           = New(KindInvariant, "invariant violation")
	ErrRateLimited         = New(KindRateLimited, "rate limited")
	ErrUniquenessExhausted = New(KindUniquenessExhausted, "uniqueness exhausted")
	ErrInvalidArgument     = New(KindInvalidArgument, "invalid argument")
)

type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is a wait hint, only set on rate-limit errors.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Unauthenticated() *Error {
	return New(KindUnauthenticated, "You must be signed in to do that")
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

func Invariant(message string) *Error {
	return New(KindInvariant, message)
}

func InvalidArgument(message string) *Error {
	return New(KindInvalidArgument, message)
}

func RateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

func Internal(err error) *Error {
	return Wrap(KindInternal, "internal error", err)
}

// KindOf reports the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
