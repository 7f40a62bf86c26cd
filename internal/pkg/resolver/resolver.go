// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package resolver reproduces the Linux dynamic loader's library search
// order (rpath, LD_LIBRARY_PATH, runpath, system) for a given interpreter,
// falling through to a small compiled dlopen/dlinfo helper for the system
// case.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/coredump-labs/magicpak/internal/pkg/bundlefs"
	"github.com/coredump-labs/magicpak/internal/pkg/magicerr"
	"github.com/coredump-labs/magicpak/pkg/sylog"
	"github.com/coredump-labs/magicpak/pkg/util/fs/lock"
)

// Resolver reproduces the loader's search order for one object's
// interpreter and search paths.
type Resolver struct {
	Interpreter string
	CC          string
	Paths       *bundlefs.SearchPaths
}

// New returns a Resolver for the given interpreter, compiler, and search
// paths. cc defaults to "cc" if empty. The CC environment variable is not
// read here: the bundle command's --cc flag takes it as its environment
// fallback and the pipeline passes the located compiler in.
func New(interpreter, cc string, paths *bundlefs.SearchPaths) *Resolver {
	if cc == "" {
		cc = "cc"
	}
	sylog.Debugf("resolver helper for %s runs with a cleared environment; LD_PRELOAD/LD_AUDIT are not forwarded", interpreter)
	return &Resolver{Interpreter: interpreter, CC: cc, Paths: paths}
}

// Lookup resolves soname N using rpath -> LD_LIBRARY_PATH -> runpath ->
// system, exactly reproducing the loader's precedence rules (rpath is
// consulted only when DT_RUNPATH was never set for this object).
func (r *Resolver) Lookup(ctx context.Context, soname string) (string, error) {
	if !r.Paths.HasRunPath() {
		if p, ok := scanExisting(r.Paths.RPath, soname); ok {
			return p, nil
		}
	}
	if p, ok := scanExisting(r.Paths.LDLibraryPath, soname); ok {
		return p, nil
	}
	if p, ok := scanExisting(r.Paths.RunPath, soname); ok {
		return p, nil
	}
	return r.systemLookup(ctx, soname, false)
}

// LookupNoload behaves like Lookup but, for the system fallback, uses a
// helper variant that links the soname directly in at build time and opens
// it with RTLD_NOLOAD, so the soname is never actually executed even
// indirectly. Used when resolving a path must not risk running the
// library's constructors.
func (r *Resolver) LookupNoload(ctx context.Context, soname string) (string, error) {
	if !r.Paths.HasRunPath() {
		if p, ok := scanExisting(r.Paths.RPath, soname); ok {
			return p, nil
		}
	}
	if p, ok := scanExisting(r.Paths.LDLibraryPath, soname); ok {
		return p, nil
	}
	if p, ok := scanExisting(r.Paths.RunPath, soname); ok {
		return p, nil
	}
	return r.systemLookup(ctx, soname, true)
}

func scanExisting(dirs []string, soname string) (string, bool) {
	for _, dir := range dirs {
		candidate := filepath.Join(dir, soname)
		if fileExists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func (r *Resolver) systemLookup(ctx context.Context, soname string, noload bool) (string, error) {
	helper, err := r.buildHelper(ctx, soname, noload)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, helper, soname)
	cmd.Env = nil // the helper's environment is deliberately cleared; see resolver env-stripping decision
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", magicerr.Wrapf(magicerr.KindSharedLibraryLookup, err, "%s", strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// buildHelper returns the path to a compiled resolver helper for this
// Resolver's (interpreter, cc) pair, building and caching it in the OS temp
// directory if not already present. The noload variant additionally keys on
// soname, since it links the soname in at build time.
func (r *Resolver) buildHelper(ctx context.Context, soname string, noload bool) (string, error) {
	variant := "generic"
	if noload {
		variant = "noload"
	}
	h1 := hash64(r.Interpreter)
	h2 := hash64(r.CC)
	name := fmt.Sprintf("magicpak_resolver_%s_%x_%x", variant, h1, h2)
	if noload {
		name = fmt.Sprintf("%s_%x", name, hash64(soname))
	}
	cachePath := filepath.Join(os.TempDir(), name)
	if fileExists(cachePath) {
		sylog.Debugf("reusing cached resolver helper %s", cachePath)
		return cachePath, nil
	}

	// Concurrent magicpak invocations on the same host share this cache
	// directory; an exclusive lock on a sidecar file keeps two of them from
	// compiling (and one from executing a half-written) the same helper.
	lockFd, err := acquireBuildLock(cachePath)
	if err != nil {
		return "", err
	}
	defer lock.Release(lockFd)

	if fileExists(cachePath) {
		sylog.Debugf("reusing resolver helper %s built by a concurrent invocation", cachePath)
		return cachePath, nil
	}

	srcFile, err := os.CreateTemp("", "magicpak_resolver_*.c")
	if err != nil {
		return "", err
	}
	defer os.Remove(srcFile.Name())

	source := helperSourceGeneric
	if noload {
		source = helperSourceNoload
	}
	if _, err := srcFile.WriteString(source); err != nil {
		srcFile.Close()
		return "", err
	}
	if err := srcFile.Close(); err != nil {
		return "", err
	}

	args := []string{
		fmt.Sprintf("-Wl,-dynamic-linker,%s", r.Interpreter),
	}
	if noload {
		args = append(args, "-Wl,--no-as-needed", "-l:"+soname)
	}
	// Build under a scratch name and rename into place, so the unlocked
	// existence check above never sees a partially written helper.
	tmpOut := cachePath + ".tmp"
	defer os.Remove(tmpOut)
	args = append(args, "-ldl", srcFile.Name(), "-o", tmpOut)

	cmd := exec.CommandContext(ctx, r.CC, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", magicerr.Wrapf(magicerr.KindResolverCompilation, err, "%s", strings.TrimSpace(stderr.String()))
	}
	if err := os.Rename(tmpOut, cachePath); err != nil {
		return "", err
	}
	sylog.Debugf("built resolver helper %s for interpreter %s, cc %s", cachePath, r.Interpreter, r.CC)
	return cachePath, nil
}

// acquireBuildLock opens (creating if needed) cachePath+".lock" and blocks
// until an exclusive flock is held on it.
func acquireBuildLock(cachePath string) (int, error) {
	lockPath := cachePath + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return -1, err
	}
	f.Close()
	return lock.Exclusive(lockPath)
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// helperSourceGeneric asks the real loader where a soname lives via
// dlopen(3)/dlinfo(3), mirroring exactly what ld.so itself would do.
const helperSourceGeneric = `
#define _GNU_SOURCE
#include <dlfcn.h>
#include <link.h>
#include <stdio.h>

int main(int argc, char **argv) {
	if (argc < 2) {
		fprintf(stderr, "usage: %s <soname>\n", argv[0]);
		return 1;
	}
	void *h = dlopen(argv[1], RTLD_LAZY);
	if (!h) {
		fprintf(stderr, "%s\n", dlerror());
		return 1;
	}
	struct link_map *lm = NULL;
	if (dlinfo(h, RTLD_DI_LINKMAP, &lm) != 0 || lm == NULL) {
		fprintf(stderr, "%s\n", dlerror());
		return 1;
	}
	printf("%s\n", lm->l_name);
	return 0;
}
`

// helperSourceNoload is identical except it opens with RTLD_NOLOAD so the
// soname's constructors never run; it relies on the soname having been
// linked in directly at build time via -l:<soname>.
const helperSourceNoload = `
#define _GNU_SOURCE
#include <dlfcn.h>
#include <link.h>
#include <stdio.h>

int main(int argc, char **argv) {
	if (argc < 2) {
		fprintf(stderr, "usage: %s <soname>\n", argv[0]);
		return 1;
	}
	void *h = dlopen(argv[1], RTLD_LAZY | RTLD_NOLOAD);
	if (!h) {
		fprintf(stderr, "%s\n", dlerror());
		return 1;
	}
	struct link_map *lm = NULL;
	if (dlinfo(h, RTLD_DI_LINKMAP, &lm) != 0 || lm == NULL) {
		fprintf(stderr, "%s\n", dlerror());
		return 1;
	}
	printf("%s\n", lm->l_name);
	return 0;
}
`
