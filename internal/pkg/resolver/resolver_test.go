// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package resolver

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/fs"

	"github.com/coredump-labs/magicpak/internal/pkg/bundlefs"
)

func newSearchPaths(t *testing.T) *bundlefs.SearchPaths {
	t.Helper()
	sp, err := bundlefs.New("/opt/app/bin")
	assert.NilError(t, err)
	return sp
}

func TestScanExisting(t *testing.T) {
	dir := fs.NewDir(t, "magicpak-resolver", fs.WithFile("libfoo.so.1", "x"))
	defer dir.Remove()

	got, ok := scanExisting([]string{"/does/not/exist", dir.Path()}, "libfoo.so.1")
	assert.Assert(t, ok)
	assert.Equal(t, got, filepath.Join(dir.Path(), "libfoo.so.1"))

	_, ok = scanExisting([]string{"/does/not/exist"}, "libfoo.so.1")
	assert.Assert(t, !ok)
}

func TestLookupPrefersRPathOverLDLibraryPath(t *testing.T) {
	rpathDir := fs.NewDir(t, "magicpak-rpath", fs.WithFile("libfoo.so.1", "rpath copy"))
	defer rpathDir.Remove()
	ldDir := fs.NewDir(t, "magicpak-ld", fs.WithFile("libfoo.so.1", "ld copy"))
	defer ldDir.Remove()

	sp := newSearchPaths(t)
	sp.AppendRPath([]string{rpathDir.Path()})
	sp.AppendLDLibraryPath([]string{ldDir.Path()})

	r := New("/lib64/ld-linux-x86-64.so.2", "cc", sp)
	got, err := r.Lookup(context.Background(), "libfoo.so.1")
	assert.NilError(t, err)
	assert.Equal(t, got, filepath.Join(rpathDir.Path(), "libfoo.so.1"))
}

func TestLookupIgnoresRPathWhenRunPathSet(t *testing.T) {
	rpathDir := fs.NewDir(t, "magicpak-rpath", fs.WithFile("libfoo.so.1", "rpath copy"))
	defer rpathDir.Remove()
	runpathDir := fs.NewDir(t, "magicpak-runpath", fs.WithFile("libfoo.so.1", "runpath copy"))
	defer runpathDir.Remove()

	sp := newSearchPaths(t)
	sp.AppendRPath([]string{rpathDir.Path()})
	sp.AppendRunPath([]string{runpathDir.Path()})

	r := New("/lib64/ld-linux-x86-64.so.2", "cc", sp)
	got, err := r.Lookup(context.Background(), "libfoo.so.1")
	assert.NilError(t, err)
	assert.Equal(t, got, filepath.Join(runpathDir.Path(), "libfoo.so.1"),
		"DT_RUNPATH being present at all disables rpath lookup for this object, even though runpath is consulted last")
}

func TestLookupFallsThroughLDLibraryPathBeforeRunPath(t *testing.T) {
	ldDir := fs.NewDir(t, "magicpak-ld", fs.WithFile("libfoo.so.1", "ld copy"))
	defer ldDir.Remove()
	runpathDir := fs.NewDir(t, "magicpak-runpath", fs.WithFile("libfoo.so.1", "runpath copy"))
	defer runpathDir.Remove()

	sp := newSearchPaths(t)
	sp.AppendRunPath([]string{runpathDir.Path()})
	sp.AppendLDLibraryPath([]string{ldDir.Path()})

	r := New("/lib64/ld-linux-x86-64.so.2", "cc", sp)
	got, err := r.Lookup(context.Background(), "libfoo.so.1")
	assert.NilError(t, err)
	assert.Equal(t, got, filepath.Join(ldDir.Path(), "libfoo.so.1"))
}

func TestNewDefaultsCC(t *testing.T) {
	r := New("/lib64/ld-linux-x86-64.so.2", "", newSearchPaths(t))
	assert.Equal(t, r.CC, "cc")
}

func TestHash64IsStableAndSensitiveToInput(t *testing.T) {
	a := hash64("/lib64/ld-linux-x86-64.so.2")
	b := hash64("/lib64/ld-linux-x86-64.so.2")
	c := hash64("/lib/ld-linux.so.2")
	assert.Equal(t, a, b)
	assert.Assert(t, a != c)
}

func TestBuildHelperCachesAcrossCalls(t *testing.T) {
	cc, err := exec.LookPath("cc")
	if err != nil {
		cc, err = exec.LookPath("gcc")
	}
	if err != nil {
		t.Skip("no C compiler on PATH, skipping resolver helper compilation test")
	}

	sp := newSearchPaths(t)
	r := New("/lib64/ld-linux-x86-64.so.2", cc, sp)

	path1, err := r.buildHelper(context.Background(), "libc.so.6", false)
	assert.NilError(t, err)
	defer os.Remove(path1)
	defer os.Remove(path1 + ".lock")

	info1, err := os.Stat(path1)
	assert.NilError(t, err)

	path2, err := r.buildHelper(context.Background(), "libc.so.6", false)
	assert.NilError(t, err)
	assert.Equal(t, path1, path2)

	info2, err := os.Stat(path2)
	assert.NilError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime(), "second call must reuse the cached binary rather than recompiling")
}
