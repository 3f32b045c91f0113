package service

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for callers and transports.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindMargin
	KindInvariant
	KindSync
	KindStale
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindMargin:
		return "margin"
	case KindInvariant:
		return "invariant"
	case KindSync:
		return "sync"
	case KindStale:
		return "stale"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

var (
	ErrStopped            = errors.New("engine: stopped")
	ErrInvalidRequest     = errors.New("engine: malformed request")
	ErrInsufficientMargin = errors.New("engine: insufficient free collateral")
	ErrLeverage           = errors.New("engine: leverage not allowed")
	ErrBelowMaintenance   = errors.New("engine: position below maintenance margin")
	ErrNotLiquidatable    = errors.New("engine: position not liquidatable")
)

// Error is returned by every engine operation that does not commit.
type Error struct {
	Kind   Kind
	Op     string
	Market string
	Err    error
}

func (e *Error) Error() string {
	if e.Market != "" {
		return fmt.Sprintf("%s %s [%s]: %v", e.Op, e.Market, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, market string, err error) *Error {
	return &Error{Kind: kind, Op: op, Market: market, Err: err}
}

func errorf(kind Kind, op, market, format string, args ...any) *Error {
	return newError(kind, op, market, fmt.Errorf(format, args...))
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
