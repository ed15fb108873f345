// Package diagnostics implements the error taxonomy used throughout the
// planner and task graph: a small tagged set of error kinds plus a context
// chain that records which pass, scope, or variable was involved.
//
// This plays the same role in this module that the hashicorp/go-multierror
// based tfdiags package plays in OpenTofu: every fallible operation in the
// planner, task graph, and runtime returns (or appends to) one of these
// instead of a bare error, so that callers can distinguish "the input was
// malformed" from "the engine has a bug" from "a collaborator failed".
package diagnostics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Kind tags the category of an Error. It mirrors the error taxonomy from
// the specification's error handling design: the kind is what a caller
// branches on, never the free-form message.
type Kind string

const (
	// InvalidInput reports a malformed spec or an invalid variable name.
	InvalidInput Kind = "invalid_input"
	// UnknownVariable reports that scope resolution failed for a given
	// (variable, scope) pair.
	UnknownVariable Kind = "unknown_variable"
	// PreTransformError reports that a requested pre-transform variable is
	// unsupported or absent.
	PreTransformError Kind = "pre_transform_error"
	// InternalError reports a graph invariant violation: a cycle, a missing
	// output, an out-of-bounds index. These indicate a bug in this engine,
	// not a problem with the caller's input.
	InternalError Kind = "internal_error"
	// ExternalError reports that an underlying collaborator - the transform
	// executor, a URL fetch, the serialization layer - failed. The
	// underlying cause is preserved via Unwrap.
	ExternalError Kind = "external_error"
)

// Error is the concrete error type returned by every fallible operation in
// this module. Use errors.As to recover one from a wrapped error, and
// compare Kind to branch on category.
type Error struct {
	Kind    Kind
	Message string
	// context is a chain of human-readable breadcrumbs, outermost first,
	// describing which pass/scope/variable was being processed when the
	// error occurred. WithContext prepends to this as the error propagates
	// back up through callers.
	context []string
	cause   error
}

func (e *Error) Error() string {
	if len(e.context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", strings.Join(e.context, ": "), e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithContext returns a copy of the error with an additional breadcrumb
// prepended to its context chain. Callers add context as the error
// propagates outward, so the first call (deepest in the stack) ends up
// rightmost when printed, next to the message, and the last call leftmost -
// see Error().
func (e *Error) WithContext(format string, args ...any) *Error {
	cp := *e
	cp.context = append([]string{fmt.Sprintf(format, args...)}, cp.context...)
	return &cp
}

func newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// InvalidInputf builds an InvalidInput error.
func InvalidInputf(format string, args ...any) *Error {
	return newf(InvalidInput, nil, format, args...)
}

// UnknownVariablef builds an UnknownVariable error.
func UnknownVariablef(format string, args ...any) *Error {
	return newf(UnknownVariable, nil, format, args...)
}

// PreTransformErrorf builds a PreTransformError.
func PreTransformErrorf(format string, args ...any) *Error {
	return newf(PreTransformError, nil, format, args...)
}

// InternalErrorf builds an InternalError. Use this for violated invariants:
// cycles, missing outputs, bounds failures - conditions that indicate a bug
// in this engine rather than a problem with caller input.
func InternalErrorf(format string, args ...any) *Error {
	return newf(InternalError, nil, format, args...)
}

// Externalf wraps a collaborator failure (I/O, the transform executor, the
// serialization layer) as an ExternalError, preserving cause for Unwrap.
func Externalf(cause error, format string, args ...any) *Error {
	return newf(ExternalError, cause, format, args...)
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Warning is a non-fatal diagnostic surfaced alongside a successful result,
// such as a pre_transform_spec call that had to leave an unsupported
// variable unresolved. It carries no Kind because warnings never gate control flow the
// way Error does.
type Warning struct {
	Message string
}

func (w Warning) String() string { return w.Message }

// Warningf builds a Warning.
func Warningf(format string, args ...any) Warning {
	return Warning{Message: fmt.Sprintf(format, args...)}
}

// Combine merges multiple errors collected while processing independent
// items (for example, several requested variables failing in one
// PreTransformValues call) into a single error, in the idiom of hashicorp/go-multierror. A nil
// is returned if errs contains no non-nil errors.
func Combine(errs ...error) error {
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if merr == nil {
		return nil
	}
	return merr.ErrorOrNil()
}
