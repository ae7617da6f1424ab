// Package errs provides the operation/kind error wrapper shared by all packages.
//
// Each package declares its own sentinel kinds in errors.go and wraps
// external failures with Wrap so callers can match on the kind with errors.Is
// while the underlying cause stays reachable through errors.As.
package errs

import (
	"errors"
	"strings"
)

// Error annotates an error with the operation that failed and its kind.
type Error struct {
	Op   string // e.g. "generation.generate"
	Kind error  // package sentinel, e.g. generation.ErrUpstreamUnavailable
	Err  error  // underlying cause, may be nil
}

// Error implements error as "op: kind: cause".
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		if e.Kind != nil {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap returns an *Error of the given kind around err. A nil err still yields
// a kinded error so that callers can use Wrap for freshly detected failures.
func Wrap(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// New returns an *Error of the given kind without a cause.
func New(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// KindOf returns the kind of the outermost *Error in the chain, or nil.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
