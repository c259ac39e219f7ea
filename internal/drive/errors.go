package drive

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the credential is missing, expired or lacks access.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the id is unknown, of the wrong kind or already deleted.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput means the request itself is malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransient means a network or rate-limit condition; the caller may retry.
	ErrTransient = errors.New("temporarily unavailable")

	// ErrPathTooDeep means the parent chain exceeded the depth cap or looped.
	ErrPathTooDeep = errors.New("path too deep")

	// ErrForbidden means the credential is valid but may not touch this
	// item. It is a kind of ErrUnauthorized; signing in again does not help.
	ErrForbidden = fmt.Errorf("%w: permission denied", ErrUnauthorized)
)

// ErrorKind is the category of a façade error.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindUnauthorized
	KindNotFound
	KindInvalidInput
	KindTransient
	KindPathTooDeep
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindTransient:
		return "transient"
	case KindPathTooDeep:
		return "path_too_deep"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps err to its category. Errors that match no sentinel are
// reported as transient.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrPathTooDeep):
		return KindPathTooDeep
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindTransient
	}
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == KindTransient
}
