// Package errs classifies pipeline failures. Whether a failure is fatal for a
// cycle is decided by the orchestrator per step; the kind only says where the
// failure came from.
package errs

import (
	"errors"
	"fmt"
)

// Kind 标识错误来源。
type Kind string

const (
	// KindConfiguration covers a missing file, key or backlog header column.
	KindConfiguration Kind = "configuration"
	// KindUpstream covers any external provider that failed or rejected a call.
	KindUpstream Kind = "upstream_unavailable"
)

// Error wraps an underlying error with its kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
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

// E builds an *Error. A nil err yields nil so call sites can wrap unconditionally.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configuration builds a configuration error from a message.
func Configuration(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// Upstream wraps an external provider failure.
func Upstream(op string, err error) error {
	return E(KindUpstream, op, err)
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
