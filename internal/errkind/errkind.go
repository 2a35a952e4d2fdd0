// Package errkind classifies pipeline errors by behavior rather than by
// Go type, so callers can branch on what policy applies (log-and-skip,
// retry, fail-the-wallet, ...) without string-matching error text.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is a closed enum of the error behaviors named in the error
// handling design: each Kind maps to exactly one propagation policy.
type Kind string

const (
	ParseFormat      Kind = "parse_format"
	NumericPrecision Kind = "numeric_precision"
	MixedDirections  Kind = "mixed_directions"
	OracleMiss       Kind = "oracle_miss"
	OracleRateLimit  Kind = "oracle_rate_limit"
	PnLOverflow      Kind = "pnl_overflow"
	WalletDeadline   Kind = "wallet_deadline"
	JobCapacity      Kind = "job_capacity"
	Persistence      Kind = "persistence"
)

// kindError attaches a Kind to an underlying error without discarding it.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.err)
}

func (e *kindError) Unwrap() error {
	return e.err
}

// Wrap attaches kind to err. Wrap(nil, ...) returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// New builds a new error already tagged with kind.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, err: errors.New(msg)}
}

// Of extracts the Kind attached to err, if any.
func Of(err error) (Kind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return "", false
}

// Is reports whether err (or anything it wraps) carries kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
