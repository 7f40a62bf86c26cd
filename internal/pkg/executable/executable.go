// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package executable parses ELF objects and walks their DT_NEEDED closure,
// the way a dynamic loader would, down to a flat list of host library
// paths.
package executable

import (
	"bytes"
	"context"
	"debug/elf"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/coredump-labs/magicpak/internal/pkg/bundlefs"
	"github.com/coredump-labs/magicpak/internal/pkg/magicerr"
	"github.com/coredump-labs/magicpak/internal/pkg/resolver"
	"github.com/coredump-labs/magicpak/pkg/sylog"
)

// wellKnownInterpreters is probed, in order, to pick a default interpreter
// for an ELF object whose PT_INTERP is absent.
var wellKnownInterpreters = []string{
	"/usr/lib/ld-linux.so.2",
	"/usr/lib64/ld-linux-x86-64.so.2",
	"/usr/libx32/ld-linux-x32.so.2",
	"/lib/ld-linux.so.2",
	"/lib64/ld-linux-x86-64.so.2",
	"/libx32/ld-linux-x32.so.2",
}

// Executable is one parsed ELF object: its location on the host (or a
// temporary location this value owns, for compression output), its
// interpreter (if any), its DT_NEEDED sonames, and the search paths used to
// resolve them.
type Executable struct {
	location    string
	name        string
	temporary   bool
	interpreter string
	needed      []string
	searchPaths *bundlefs.SearchPaths
}

// Path returns the executable's current host location.
func (e *Executable) Path() string { return e.location }

// Name returns the executable's display name (its base name at load time).
func (e *Executable) Name() string { return e.name }

// Interpreter returns the resolved interpreter path, or "" if none (static
// binary, or no default could be probed).
func (e *Executable) Interpreter() string { return e.interpreter }

// Needed returns the object's DT_NEEDED sonames, in declaration order.
func (e *Executable) Needed() []string { return append([]string(nil), e.needed...) }

// Close removes the underlying file if it is a temporary this Executable
// owns (the product of Compressed). It is a no-op for user-supplied paths.
func (e *Executable) Close() error {
	if !e.temporary {
		return nil
	}
	return os.Remove(e.location)
}

// Load parses the ELF object at path. path must not be a directory.
func Load(path string) (*Executable, error) {
	return load(path, false)
}

func load(path string, temporary bool) (*Executable, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, magicerr.Wrapf(magicerr.KindInvalidObjectPath, err, "%s", path)
	}
	if fi.IsDir() {
		return nil, magicerr.Wrapf(magicerr.KindInvalidObjectPath, nil, "%s is a directory", path)
	}

	f, err := elf.Open(path)
	if err != nil {
		return nil, magicerr.Wrapf(magicerr.KindMalformedExecutable, err, "%s", path)
	}
	defer f.Close()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	exe := &Executable{
		location:  absPath,
		name:      filepath.Base(absPath),
		temporary: temporary,
	}

	interp, err := readInterp(f)
	if err != nil {
		return nil, err
	}
	if interp == "" {
		interp, err = probeDefaultInterpreter(absPath)
		if err != nil {
			sylog.Warningf("%s: no interpreter found, treating as statically linked: %v", absPath, err)
		}
	}
	exe.interpreter = interp

	needed, rpath, runpath, err := readDynamic(f)
	if err != nil {
		return nil, err
	}
	exe.needed = needed

	sp, err := bundlefs.New(filepath.Dir(absPath))
	if err != nil {
		return nil, err
	}
	if len(rpath) > 0 {
		sp.AppendRPath(rpath)
	}
	if runpath != nil {
		sp.AppendRunPath(runpath)
	}
	sp.AppendLDLibraryPath(splitLDLibraryPath(os.Getenv("LD_LIBRARY_PATH")))
	exe.searchPaths = sp

	if exe.interpreter == "" {
		// No interpreter: the loader never runs, so there is nothing to
		// resolve. Matches the documented "missing interpreter forces the
		// dependency list to empty" policy.
		exe.needed = nil
	}

	return exe, nil
}

func splitLDLibraryPath(v string) []string {
	if v == "" {
		return nil
	}
	return strings.FieldsFunc(v, func(r rune) bool { return r == ':' || r == ';' })
}

// readInterp returns the PT_INTERP string, or "" if the object has none.
func readInterp(f *elf.File) (string, error) {
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return "", magicerr.Wrapf(magicerr.KindMalformedExecutable, err, "reading PT_INTERP")
		}
		if i := bytes.IndexByte(data, 0); i >= 0 {
			data = data[:i]
		}
		return string(data), nil
	}
	return "", nil
}

// readDynamic extracts DT_NEEDED, DT_RPATH, DT_RUNPATH from the dynamic
// section. A missing dynamic section (statically linked object) is not an
// error: it simply yields no entries. runpath is nil (as opposed to empty)
// when DT_RUNPATH was never present, so the caller can distinguish
// "unset" from "set but empty".
func readDynamic(f *elf.File) (needed, rpath, runpath []string, err error) {
	needed, err = f.DynString(elf.DT_NEEDED)
	if err != nil {
		if isNoDynamicSection(err) {
			return nil, nil, nil, nil
		}
		return nil, nil, nil, magicerr.Wrapf(magicerr.KindMalformedExecutable, err, "reading DT_NEEDED")
	}

	rpath, err = f.DynString(elf.DT_RPATH)
	if err != nil && !isNoDynamicSection(err) {
		return nil, nil, nil, magicerr.Wrapf(magicerr.KindMalformedExecutable, err, "reading DT_RPATH")
	}

	hasRunpath := false
	runpathVals, rerr := f.DynString(elf.DT_RUNPATH)
	if rerr != nil && !isNoDynamicSection(rerr) {
		return nil, nil, nil, magicerr.Wrapf(magicerr.KindMalformedExecutable, rerr, "reading DT_RUNPATH")
	}
	// DynString reports an absent tag as (nil, nil); a present entry, even
	// an empty string, yields at least one element.
	if rerr == nil && len(runpathVals) > 0 {
		hasRunpath = true
	}
	if hasRunpath {
		runpath = runpathVals
		if runpath == nil {
			runpath = []string{}
		}
	}

	return needed, rpath, runpath, nil
}

func isNoDynamicSection(err error) bool {
	return err != nil && strings.Contains(err.Error(), ".dynamic")
}

// probeDefaultInterpreter tries each well-known loader path against
// `loader --verify path`, accepting exit codes 0 (verified dynamic) or 2
// (verified as statically linked).
func probeDefaultInterpreter(path string) (string, error) {
	for _, loader := range wellKnownInterpreters {
		if _, err := os.Stat(loader); err != nil {
			continue
		}
		cmd := exec.Command(loader, "--verify", path)
		err := cmd.Run()
		if err == nil {
			return loader, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 2 {
			return loader, nil
		}
	}
	return "", magicerr.Wrapf(magicerr.KindInterpreterNotFound, nil, "no well-known interpreter verified %s", path)
}

// DynamicLibraries resolves every DT_NEEDED soname via the Resolver,
// recursively loading each discovered library and walking its own
// dependencies, forwarding this object's rpath to each child per ELF
// inheritance rules. The result is a depth-first pre-order traversal;
// duplicates across branches are tolerated by the caller (the Bundle
// deduplicates by key).
func (e *Executable) DynamicLibraries(ctx context.Context, cc string) ([]string, error) {
	if e.interpreter == "" {
		return nil, nil
	}
	var out []string
	seen := make(map[string]bool)
	if err := e.dynamicLibraries(ctx, cc, e.searchPaths.RPath, &out, seen); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Executable) dynamicLibraries(ctx context.Context, cc string, inheritedRPath []string, out *[]string, seen map[string]bool) error {
	res := resolver.New(e.interpreter, cc, e.searchPaths)
	for _, soname := range e.needed {
		libPath, err := res.Lookup(ctx, soname)
		if err != nil {
			return err
		}
		*out = append(*out, libPath)
		if seen[libPath] {
			continue
		}
		seen[libPath] = true

		child, err := Load(libPath)
		if err != nil {
			return err
		}
		if len(inheritedRPath) > 0 {
			child.searchPaths.AppendRPath(inheritedRPath)
		}
		if err := child.dynamicLibraries(ctx, cc, child.searchPaths.RPath, out, seen); err != nil {
			return err
		}
	}
	return nil
}

// Compressed spawns UPX against this executable's path and returns a new
// Executable backed by the (temporary, owned) compressed output.
func (e *Executable) Compressed(ctx context.Context, upx string, opts []string) (*Executable, error) {
	// UPX refuses to overwrite an existing file, so the scratch path is
	// reserved by name only: a uuid keeps concurrent compressions of the
	// same binary from colliding on the same path.
	scratchPath := filepath.Join(os.TempDir(), "magicpak_upx_"+uuid.NewString())

	canonical, err := filepath.Abs(e.location)
	if err != nil {
		return nil, err
	}

	args := append(append([]string{}, opts...), "--no-progress", canonical, "-o", scratchPath)
	cmd := exec.CommandContext(ctx, upx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, magicerr.Wrapf(magicerr.KindUpxFailed, err, "%s", strings.TrimSpace(stderr.String()))
	}

	if fi, statErr := os.Stat(e.location); statErr == nil {
		if err := os.Chmod(scratchPath, fi.Mode().Perm()); err != nil {
			return nil, err
		}
	}

	return load(scratchPath, true)
}

// ErrNoInterpreter names the condition of an object without an
// interpreter. Nothing in this package returns it: Load treats a missing
// interpreter as a warning, and DynamicLibraries then returns an empty
// list.
var ErrNoInterpreter = fmt.Errorf("executable: no interpreter")
