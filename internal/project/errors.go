package project

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the store, the sync engine and the
// remote clients. The set is closed.
type Kind uint8

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindNotFound
	KindConflict
	KindRemoteUnavailable
	KindTimeout
)

// Sentinel errors for use with errors.Is.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("project not found")
	ErrConflict          = errors.New("concurrent modification")
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrTimeout           = errors.New("remote call timed out")
	ErrInternal          = errors.New("internal error")
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRemoteUnavailable:
		return "remote_unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindRemoteUnavailable:
		return ErrRemoteUnavailable
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrInternal
	}
}

// Error is the error type returned by store and sync operations.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

// E builds an *Error. err may be nil.
func E(kind Kind, op, id string, err error) error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.ID != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.ID)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf reports the Kind of err. Context deadlines map to KindTimeout and
// unclassified errors to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrRemoteUnavailable):
		return KindRemoteUnavailable
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	}
	return KindInternal
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindInternal.
func ParseKind(s string) Kind {
	for k := KindInvalidArgument; k <= KindTimeout; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindInternal
}
