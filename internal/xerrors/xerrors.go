// Package xerrors attaches call-site information to errors so the logger can
// render where an error was created or wrapped without a full stack on every
// hop.
//
// New/Newf/WithStack/EnsureTrace capture a stack. Wrap/Wrapf capture a single
// caller PC. Both kinds unwrap normally and work with errors.Is / errors.As.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries a captured stack alongside the underlying error
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// wrapped adds a message prefix and the PC of the Wrap caller
type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error     { return w.err }
func (w *wrapped) PC() uintptr       { return w.pc }
func (w *wrapped) IsXerrorsWrapper() {}

// capture skips runtime.Callers, capture itself, and skip more frames
func capture(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func stack(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: capture(skip + 1)}
}

// hasStack reports whether any error in the chain already carries a stack
func hasStack(err error) bool {
	var hs interface{ StackPCs() []uintptr }
	return errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0
}

// New returns an error with msg and a stack rooted at the caller.
func New(msg string) error { return stack(errors.New(msg), 1) }

// Newf is New with fmt formatting. %w is honored.
func Newf(format string, args ...any) error { return stack(fmt.Errorf(format, args...), 1) }

// WithStack attaches a stack to err, even if one is already present.
func WithStack(err error) error { return stack(err, 1) }

// EnsureTrace attaches a stack only if nothing in the chain has one yet.
// Used at package boundaries where errors from the stdlib or SDKs come back bare.
func EnsureTrace(err error) error {
	if err == nil || hasStack(err) {
		return err
	}
	return stack(err, 1)
}

// Wrap prefixes err with msg and records the caller. Returns nil for a nil err.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf is Wrap with fmt formatting for the prefix.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}
