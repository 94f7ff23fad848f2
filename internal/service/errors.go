// Package service holds the business operations behind the HTTP handlers:
// registration and login, image analysis orchestration and history paging.
// Every failure a caller should react to is an *Error with a Kind; handlers
// map kinds to HTTP statuses in one place.
package service

import (
	"errors"
	"fmt"
	"time"
)

// dbTimeout bounds every store call made by a service.
const dbTimeout = 5 * time.Second

// Kind classifies a service failure.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuth
	KindNotFound
	KindUpstream
	// KindDegraded marks a partial failure that is logged but never returned
	// to the client.
	KindDegraded
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindDegraded:
		return "degraded"
	default:
		return "internal"
	}
}

// Error is a classified service failure.  Msg is safe to show to clients;
// Err is the underlying cause and is only logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(msg string) *Error { return newError(KindValidation, msg, nil) }
func Conflict(msg string) *Error { return newError(KindConflict, msg, nil) }
func Unauthorized(msg string) *Error { return newError(KindAuth, msg, nil) }
func NotFound(msg string) *Error { return newError(KindNotFound, msg, nil) }
func Upstream(msg string, err error) *Error { return newError(KindUpstream, msg, err) }
func Degraded(msg string, err error) *Error { return newError(KindDegraded, msg, err) }
func Internal(msg string, err error) *Error { return newError(KindInternal, msg, err) }

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
