// internal/pgfunc/errors.go
package pgfunc

import (
	"errors"
	"fmt"
)

// Kind classifies a failure returned by Discover or Invoke.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindAmbiguous
	KindPreparation
	KindExecution
)

var (
	ErrNotFound    = errors.New("function not found")
	ErrAmbiguous   = errors.New("function is ambiguous")
	ErrPreparation = errors.New("statement preparation failed")
	ErrExecution   = errors.New("statement execution failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindAmbiguous:
		return ErrAmbiguous
	case KindPreparation:
		return ErrPreparation
	case KindExecution:
		return ErrExecution
	}
	return nil
}

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAmbiguous:
		return "ambiguous"
	case KindPreparation:
		return "preparation_failure"
	case KindExecution:
		return "execution_failure"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every failing operation in this package.
// Callers branch on Kind, or use errors.Is with the Err* sentinels.
type Error struct {
	Kind   Kind
	Op     string // "discover" or "invoke"
	Schema string
	Name   string
	Err    error // underlying driver or validation error, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s.%s: %v", e.Op, e.Schema, e.Name, e.Kind.sentinel())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, op, schema, name string, err error) *Error {
	return &Error{Kind: kind, Op: op, Schema: schema, Name: name, Err: err}
}
