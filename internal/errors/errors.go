// Package errors provides the error-handling primitives used throughout
// netbase. It re-exports the pkg/errors API so call sites get stack traces
// on wrap, plus a Fatal kind for usage violations (buffer/marker/scratch
// misuse) that the rest of the library treats as unrecoverable.
package errors

import "github.com/pkg/errors"

// Re-exported pkg/errors surface, so internal packages only ever import
// "github.com/arnegard/netbase/internal/errors".
var (
	New    = errors.New
	Errorf = errors.Errorf
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	Cause  = errors.Cause
	Is     = errors.Is
	As     = errors.As
)

// WithStack annotates err with a stack trace at the point WithStack was
// called. Returns nil if err is nil.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// fatalError marks an error as a usage violation: a programming mistake in
// the caller (nested scratch, marker underflow, destroying a buffer with a
// live marker) rather than a runtime condition the caller could reasonably
// recover from.
type fatalError struct {
	err error
}

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Cause() error  { return f.err }
func (f *fatalError) Unwrap() error { return f.err }

// Fatal wraps msg as a usage error.
func Fatal(msg string) error {
	return &fatalError{err: errors.New(msg)}
}

// Fatalf wraps a formatted message as a usage error.
func Fatalf(format string, args ...interface{}) error {
	return &fatalError{err: errors.Errorf(format, args...)}
}

// IsFatal reports whether err (or any error in its chain) was produced by
// Fatal/Fatalf.
func IsFatal(err error) bool {
	for err != nil {
		if _, ok := err.(*fatalError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
