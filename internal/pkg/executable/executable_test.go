// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package executable

import (
	"context"
	"os"
	"os/exec"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/fs"

	"github.com/coredump-labs/magicpak/internal/pkg/magicerr"
)

// findHostELF returns the path to a dynamically linked ELF executable
// present on this host, skipping the test if none of the usual candidates
// are found.
func findHostELF(t *testing.T) string {
	t.Helper()
	for _, candidate := range []string{"/bin/ls", "/usr/bin/ls", "/bin/cat", "/usr/bin/cat"} {
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate
		}
	}
	t.Skip("no candidate dynamically linked executable found on this host")
	return ""
}

func TestLoadParsesInterpreterAndNeeded(t *testing.T) {
	path := findHostELF(t)
	exe, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, exe.Path(), path)
	if exe.Interpreter() == "" {
		t.Skip("host executable appears statically linked, nothing further to assert")
	}
	assert.Assert(t, len(exe.Needed()) > 0, "a dynamically linked executable should declare at least one DT_NEEDED entry")
}

func TestLoadRejectsDirectory(t *testing.T) {
	dir := fs.NewDir(t, "magicpak-exe")
	defer dir.Remove()

	_, err := Load(dir.Path())
	kind, ok := magicerr.KindOf(err)
	assert.Assert(t, ok)
	assert.Equal(t, kind, magicerr.KindInvalidObjectPath)
}

func TestLoadRejectsMissingPath(t *testing.T) {
	_, err := Load("/nonexistent/binary")
	kind, ok := magicerr.KindOf(err)
	assert.Assert(t, ok)
	assert.Equal(t, kind, magicerr.KindInvalidObjectPath)
}

func TestLoadRejectsNonELF(t *testing.T) {
	f, err := os.CreateTemp("", "magicpak-not-elf")
	assert.NilError(t, err)
	defer os.Remove(f.Name())
	_, err = f.WriteString("not an ELF file")
	assert.NilError(t, err)
	assert.NilError(t, f.Close())

	_, err = Load(f.Name())
	kind, ok := magicerr.KindOf(err)
	assert.Assert(t, ok)
	assert.Equal(t, kind, magicerr.KindMalformedExecutable)
}

func TestDynamicLibrariesResolvesTransitiveClosure(t *testing.T) {
	path := findHostELF(t)
	exe, err := Load(path)
	assert.NilError(t, err)
	if exe.Interpreter() == "" {
		t.Skip("host executable appears statically linked")
	}

	cc, err := exec.LookPath("cc")
	if err != nil {
		cc, err = exec.LookPath("gcc")
	}
	if err != nil {
		t.Skip("no C compiler on PATH, resolver helper cannot be built")
	}

	libs, err := exe.DynamicLibraries(context.Background(), cc)
	if err != nil {
		t.Skipf("dynamic library resolution failed in this environment: %v", err)
	}
	assert.Assert(t, len(libs) >= len(exe.Needed()),
		"transitive closure must be at least as large as the direct DT_NEEDED list")
}

func TestCompressedRequiresUPX(t *testing.T) {
	path := findHostELF(t)
	exe, err := Load(path)
	assert.NilError(t, err)

	_, err = exe.Compressed(context.Background(), "/definitely/not/upx", nil)
	assert.Assert(t, err != nil)
}

func TestCloseIsNoopForNonTemporary(t *testing.T) {
	path := findHostELF(t)
	exe, err := Load(path)
	assert.NilError(t, err)
	assert.NilError(t, exe.Close())

	_, err = os.Stat(path)
	assert.NilError(t, err, "Close must not remove a user-supplied, non-owned path")
}
