package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the boundary can render them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindUnsupportedFormat
	KindAuthFailure
	KindRemoteFailure
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindUnsupportedFormat:
		return "unsupported format"
	case KindAuthFailure:
		return "authentication failure"
	case KindRemoteFailure:
		return "remote failure"
	case KindMalformedResponse:
		return "malformed response"
	default:
		return "unknown"
	}
}

// Error is returned by every component operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an Error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of the first Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
