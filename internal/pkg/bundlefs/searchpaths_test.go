// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package bundlefs

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestExpandTokens(t *testing.T) {
	sp := &SearchPaths{origin: "/opt/app/bin", platform: "x86_64"}

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "bare origin", raw: "$ORIGIN/../lib", want: "/opt/app/bin/../lib"},
		{name: "braced origin", raw: "${ORIGIN}/../lib", want: "/opt/app/bin/../lib"},
		{name: "lib token 64-bit", raw: "/usr/$LIB", want: "/usr/lib64"},
		{name: "platform token", raw: "/opt/$PLATFORM/lib", want: "/opt/x86_64/lib"},
		{name: "bare token stops at next slash", raw: "$ORIGIN/$LIB", want: "/opt/app/bin/lib64"},
		{name: "unrecognized bare token passes through", raw: "$NOPE/lib", want: "$NOPE/lib"},
		{name: "unterminated brace re-emitted literally", raw: "${ORIGIN", want: "${ORIGIN"},
		{name: "no tokens", raw: "/usr/lib", want: "/usr/lib"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, sp.expand(test.raw), test.want)
		})
	}
}

func TestLibToken(t *testing.T) {
	assert.Equal(t, libToken("x86_64"), "lib64")
	assert.Equal(t, libToken("aarch64"), "lib64")
	assert.Equal(t, libToken("i686"), "lib")
	assert.Equal(t, libToken("arm"), "lib")
	assert.Equal(t, libToken("mystery"), "lib")
}

func TestAppendRPathExpandsAndMarksSet(t *testing.T) {
	sp := &SearchPaths{origin: "/opt/app/bin", platform: "x86_64"}
	assert.Assert(t, !sp.HasRunPath())

	sp.AppendRPath([]string{"$ORIGIN/../lib", "/usr/lib"})
	assert.DeepEqual(t, sp.RPath, []string{"/opt/app/bin/../lib", "/usr/lib"})

	sp.AppendRunPath([]string{"/usr/local/lib"})
	assert.Assert(t, sp.HasRunPath())
	assert.DeepEqual(t, sp.RunPath, []string{"/usr/local/lib"})
}

func TestAppendLDLibraryPath(t *testing.T) {
	sp := &SearchPaths{origin: "/opt/app/bin", platform: "x86_64"}
	sp.AppendLDLibraryPath([]string{"/opt/lib", "$ORIGIN/lib"})
	assert.DeepEqual(t, sp.LDLibraryPath, []string{"/opt/lib", "/opt/app/bin/lib"})
}

func TestNewCapturesPlatform(t *testing.T) {
	sp, err := New("/opt/app/bin")
	assert.NilError(t, err)
	assert.Equal(t, sp.origin, "/opt/app/bin")
	assert.Assert(t, sp.platform != "", "platform should be captured from the auxiliary vector")
}
