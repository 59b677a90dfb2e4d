// Package failures classifies the errors the harness distinguishes when
// deciding whether a problem affects scenario status or is only logged.
package failures

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Kind names a class of harness failure.
type Kind string

const (
	// CaptureFailure: a screenshot could not be taken. Logged, never fails a step.
	CaptureFailure Kind = "CaptureFailure"
	// OrchestrationUnavailable: the coordination service could not be reached.
	OrchestrationUnavailable Kind = "OrchestrationUnavailable"
	// SessionFailure: a browser session could not be created or torn down.
	SessionFailure Kind = "SessionFailure"
	// StepFailure: an assertion or driver error during a step.
	StepFailure Kind = "StepFailure"
	// ReportRenderFailure: one report format could not be written.
	ReportRenderFailure Kind = "ReportRenderFailure"
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Cause lets errors.Cause walk through classified errors.
func (e *Error) Cause() error { return e.Err }

// New returns a classified error with a message.
func New(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) (Kind, bool) {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.Kind, true
	}
	// pkg/errors wrappers created before go1.13 support only expose Cause.
	for err != nil {
		if c, ok := err.(*Error); ok {
			return c.Kind, true
		}
		causer, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		next := causer.Cause()
		if next == err {
			break
		}
		err = next
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	got, ok := KindOf(err)
	return ok && got == kind
}
