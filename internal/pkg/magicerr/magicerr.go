// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package magicerr defines the closed taxonomy of error kinds produced while
// assembling a bundle, each wrapping an underlying cause so that
// errors.Is/errors.As keep working across package boundaries.
package magicerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the named failure modes a caller may want to
// switch on, independent of the wrapped cause's message.
type Kind int

const (
	// KindInvalidDestination means the destination path exists but is not a directory.
	KindInvalidDestination Kind = iota
	// KindNonEmptyDestination means the destination directory exists and is not empty.
	KindNonEmptyDestination
	// KindInvalidGlobPattern means an include/exclude pattern failed to compile.
	KindInvalidGlobPattern
	// KindMalformedExecutable means the ELF object could not be parsed.
	KindMalformedExecutable
	// KindValueNotFoundInStrtab means a DT_* tag pointed outside the string table.
	KindValueNotFoundInStrtab
	// KindInterpreterNotFound means no usable default interpreter could be probed.
	KindInterpreterNotFound
	// KindInvalidObjectPath means the path passed to Executable.Load names a directory or is unreadable.
	KindInvalidObjectPath
	// KindSharedLibraryLookup means the resolver helper could not resolve a soname.
	KindSharedLibraryLookup
	// KindResolverCompilation means the C compiler failed to build the resolver helper.
	KindResolverCompilation
	// KindExecutableLocateFailed means an external tool (cc, upx, busybox) was not found on PATH.
	KindExecutableLocateFailed
	// KindUpxFailed means the UPX subprocess exited non-zero.
	KindUpxFailed
	// KindDynamicFailed means the traced process exited with a non-zero status.
	KindDynamicFailed
	// KindDynamicSignaled means the traced process was killed by a signal.
	KindDynamicSignaled
	// KindBusyBoxInstallFailed means busybox --install failed inside the jail.
	KindBusyBoxInstallFailed
	// KindTestFailed means the smoke-test command exited non-zero.
	KindTestFailed
	// KindTestStdoutMismatch means the smoke-test's stdout did not match the expectation.
	KindTestStdoutMismatch
	// KindPathEncoding means a path could not be rendered as UTF-8 where required.
	KindPathEncoding
	// KindIO is a generic I/O catch-all.
	KindIO
	// KindEncoding is a generic encoding catch-all.
	KindEncoding
)

func (k Kind) String() string {
	switch k {
	case KindInvalidDestination:
		return "InvalidDestination"
	case KindNonEmptyDestination:
		return "NonEmptyDestination"
	case KindInvalidGlobPattern:
		return "InvalidGlobPattern"
	case KindMalformedExecutable:
		return "MalformedExecutable"
	case KindValueNotFoundInStrtab:
		return "ValueNotFoundInStrtab"
	case KindInterpreterNotFound:
		return "InterpreterNotFound"
	case KindInvalidObjectPath:
		return "InvalidObjectPath"
	case KindSharedLibraryLookup:
		return "SharedLibraryLookup"
	case KindResolverCompilation:
		return "ResolverCompilation"
	case KindExecutableLocateFailed:
		return "ExecutableLocateFailed"
	case KindUpxFailed:
		return "UpxFailed"
	case KindDynamicFailed:
		return "DynamicFailed"
	case KindDynamicSignaled:
		return "DynamicSignaled"
	case KindBusyBoxInstallFailed:
		return "BusyBoxInstallFailed"
	case KindTestFailed:
		return "TestFailed"
	case KindTestStdoutMismatch:
		return "TestStdoutMismatch"
	case KindPathEncoding:
		return "PathEncoding"
	case KindIO:
		return "IO"
	case KindEncoding:
		return "Encoding"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried through the pipeline. Fields
// beyond Kind/Cause are kind-specific and populated only where meaningful.
type Error struct {
	Kind Kind
	// Msg is a human-readable summary, independent of Cause.
	Msg string
	// Cause is the underlying error, if any.
	Cause error

	// Tag/Val are set for ValueNotFoundInStrtab.
	Tag string
	Val int64

	// Name is set for ExecutableLocateFailed.
	Name string

	// ExitStatus is set for DynamicFailed / TestFailed.
	ExitStatus int
	// Signal is set for DynamicSignaled.
	Signal int

	// Expected/Got are set for TestStdoutMismatch.
	Expected string
	Got      string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindValueNotFoundInStrtab:
		return fmt.Sprintf("%s: tag %s value %d not found in string table", e.Kind, e.Tag, e.Val)
	case KindExecutableLocateFailed:
		if e.Cause != nil {
			return fmt.Sprintf("%s: %q: %s", e.Kind, e.Name, e.Cause)
		}
		return fmt.Sprintf("%s: %q not found on PATH", e.Kind, e.Name)
	case KindDynamicFailed:
		return fmt.Sprintf("%s: exit status %d", e.Kind, e.ExitStatus)
	case KindDynamicSignaled:
		return fmt.Sprintf("%s: signal %d", e.Kind, e.Signal)
	case KindTestStdoutMismatch:
		return fmt.Sprintf("%s: expected %q, got %q", e.Kind, e.Expected, e.Got)
	}
	if e.Msg != "" && e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, magicerr.New(kind, ...)) compare by Kind alone,
// so callers can test for a kind without reconstructing the full Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an Error of the given kind wrapping cause, with msg as an
// additional summary.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Wrapf is a convenience for New with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinel returns a comparison target for errors.Is(err, magicerr.Sentinel(kind)).
func Sentinel(kind Kind) error { return &Error{Kind: kind} }

// KindOf reports the Kind of err if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
