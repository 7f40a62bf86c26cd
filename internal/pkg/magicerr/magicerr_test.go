// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package magicerr

import (
	"errors"
	"fmt"
	"testing"

	"gotest.tools/v3/assert"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "value not found in strtab",
			err:  &Error{Kind: KindValueNotFoundInStrtab, Tag: "DT_NEEDED", Val: 42},
			want: "ValueNotFoundInStrtab: tag DT_NEEDED value 42 not found in string table",
		},
		{
			name: "executable locate failed without cause",
			err:  &Error{Kind: KindExecutableLocateFailed, Name: "upx"},
			want: `ExecutableLocateFailed: "upx" not found on PATH`,
		},
		{
			name: "executable locate failed with cause",
			err:  &Error{Kind: KindExecutableLocateFailed, Name: "cc", Cause: errors.New("exec: not found")},
			want: `ExecutableLocateFailed: "cc": exec: not found`,
		},
		{
			name: "dynamic failed",
			err:  &Error{Kind: KindDynamicFailed, ExitStatus: 7},
			want: "DynamicFailed: exit status 7",
		},
		{
			name: "dynamic signaled",
			err:  &Error{Kind: KindDynamicSignaled, Signal: 11},
			want: "DynamicSignaled: signal 11",
		},
		{
			name: "stdout mismatch",
			err:  &Error{Kind: KindTestStdoutMismatch, Expected: "ok", Got: "no"},
			want: `TestStdoutMismatch: expected "ok", got "no"`,
		},
		{
			name: "msg and cause",
			err:  &Error{Kind: KindIO, Msg: "reading header", Cause: errors.New("eof")},
			want: "IO: reading header: eof",
		},
		{
			name: "cause only",
			err:  &Error{Kind: KindIO, Cause: errors.New("eof")},
			want: "IO: eof",
		},
		{
			name: "msg only",
			err:  &Error{Kind: KindInvalidDestination, Msg: "not a directory"},
			want: "InvalidDestination: not a directory",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.err.Error(), test.want)
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrapf(KindIO, cause, "doing %s", "work")
	assert.Equal(t, errors.Unwrap(err), cause)
}

func TestIsComparesByKind(t *testing.T) {
	a := New(KindUpxFailed, "first attempt", errors.New("exit 1"))
	b := New(KindUpxFailed, "second attempt", errors.New("exit 2"))
	assert.Assert(t, errors.Is(a, b))
	assert.Assert(t, errors.Is(a, Sentinel(KindUpxFailed)))
	assert.Assert(t, !errors.Is(a, Sentinel(KindTestFailed)))
}

func TestKindOf(t *testing.T) {
	err := Wrapf(KindResolverCompilation, errors.New("cc exited 1"), "building helper")
	kind, ok := KindOf(err)
	assert.Assert(t, ok)
	assert.Equal(t, kind, KindResolverCompilation)

	_, ok = KindOf(errors.New("plain error"))
	assert.Assert(t, !ok)
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	inner := Wrapf(KindMalformedExecutable, nil, "bad ELF")
	outer := errors.New("context: " + inner.Error())
	_, ok := KindOf(outer)
	assert.Assert(t, !ok, "plain string-wrapped error must not be mistaken for a tagged one")

	wrapped := fmt.Errorf("context: %w", inner)
	kind, ok := KindOf(wrapped)
	assert.Assert(t, ok)
	assert.Equal(t, kind, KindMalformedExecutable)
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, Kind(999).String(), "Unknown")
}
