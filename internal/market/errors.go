package market

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindNotFound
	KindUpstream
	KindUnavailable
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream_error"
	case KindUnavailable:
		return "temporarily_unavailable"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error carries a Kind through wrap chains so the HTTP layer can map it
// to a status code without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a kinded error. The format supports %w like fmt.Errorf.
func Errorf(kind Kind, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Msg: err.Error(), Err: errors.Unwrap(err)}
}

func InvalidArgumentf(format string, args ...any) *Error {
	return Errorf(KindInvalidArgument, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return Errorf(KindNotFound, format, args...)
}

func Upstreamf(format string, args ...any) *Error {
	return Errorf(KindUpstream, format, args...)
}

func Unavailablef(format string, args ...any) *Error {
	return Errorf(KindUnavailable, format, args...)
}

// KindOf walks the wrap chain and returns the first Kind it finds,
// KindInternal when none is present.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindInternal
}
