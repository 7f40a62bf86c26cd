// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package pipeline sequences executable analysis, bundle population, the
// optional dynamic probe and jail smoke test, and the final emit.
package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/coredump-labs/magicpak/internal/pkg/bundlefs"
	"github.com/coredump-labs/magicpak/internal/pkg/executable"
	"github.com/coredump-labs/magicpak/internal/pkg/jail"
	"github.com/coredump-labs/magicpak/internal/pkg/magicerr"
	"github.com/coredump-labs/magicpak/internal/pkg/tracer"
	"github.com/coredump-labs/magicpak/internal/pkg/util/bin"
)

// tracerCommand builds the exec.Cmd the dynamic probe runs under ptrace.
func tracerCommand(ctx context.Context, path string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, path)
	cmd.SysProcAttr = tracer.PreExec()
	return cmd
}

// Config gathers everything a single pipeline run needs. It is the direct
// Go counterpart of the "bundle" subcommand's flags.
type Config struct {
	Binaries    []string
	Destination string

	CC  string
	UPX string

	Compress bool
	Dynamic  bool

	Test         bool
	TestStdout   string
	TestExitCode int
	TestStdin    string
	BusyBox      string

	Include []string
	Exclude []string
	Mkdirs  []string
}

// Run executes the full sequence and emits the resulting bundle to
// cfg.Destination.
func Run(ctx context.Context, cfg Config) error {
	if len(cfg.Binaries) == 0 {
		return fmt.Errorf("pipeline: no input binaries given")
	}

	cc, err := bin.Find("cc", cfg.CC)
	if err != nil {
		return err
	}

	var upx string
	if cfg.Compress {
		upx, err = bin.Find("upx", cfg.UPX)
		if err != nil {
			return err
		}
	}

	var busybox string
	if cfg.Test {
		busybox, err = bin.Find("busybox", cfg.BusyBox)
		if err != nil {
			return err
		}
	}

	bundle := bundlefs.New()
	var primary *executable.Executable

	for _, binPath := range cfg.Binaries {
		exe, err := executable.Load(binPath)
		if err != nil {
			return err
		}

		if cfg.Compress {
			compressed, err := exe.Compressed(ctx, upx, nil)
			if err != nil {
				return err
			}
			exe = compressed
		}

		if err := stageExecutable(bundle, exe); err != nil {
			return err
		}

		libs, err := exe.DynamicLibraries(ctx, cc)
		if err != nil {
			return err
		}
		for _, lib := range libs {
			if err := bundle.AddFileFrom(bundlefs.ProjectPath(lib), lib); err != nil {
				return err
			}
		}

		if cfg.Dynamic {
			if err := runDynamicProbe(ctx, bundle, exe); err != nil {
				return err
			}
		}

		if primary == nil {
			primary = exe
		}
	}

	for _, d := range cfg.Mkdirs {
		bundle.Mkdir(bundlefs.ProjectPath(d))
	}

	if primary != nil {
		if err := bundle.AddPseudoProc(primary); err != nil {
			return err
		}
	}

	if err := applyFilters(bundle, cfg.Include, cfg.Exclude); err != nil {
		return err
	}

	if cfg.Test {
		if err := runSmokeTest(ctx, bundle, cfg, busybox, primary); err != nil {
			return err
		}
	}

	return bundle.Emit(cfg.Destination)
}

// stageExecutable adds the object itself and, if present, its interpreter.
func stageExecutable(bundle *bundlefs.Bundle, exe *executable.Executable) error {
	if err := bundle.AddFileFrom(bundlefs.ProjectPath(exe.Path()), exe.Path()); err != nil {
		return err
	}
	if exe.Interpreter() != "" {
		interp, err := filepath.Abs(exe.Interpreter())
		if err != nil {
			return err
		}
		if err := bundle.AddFileFrom(bundlefs.ProjectPath(interp), interp); err != nil {
			return err
		}
	}
	return nil
}

// runDynamicProbe executes exe under the tracer with no arguments and
// pushes every opened path that currently exists on the host into the
// bundle. Write-intent opens (O_CREAT) are not staged, since they name
// files the program intends to create rather than files it depends on.
func runDynamicProbe(ctx context.Context, bundle *bundlefs.Bundle, exe *executable.Executable) error {
	cmd := tracerCommand(ctx, exe.Path())

	var stageErr error
	handlers := tracer.Handlers{
		OnOpen: func(path string, flags int) {
			stageIfReadable(bundle, path, flags, &stageErr)
		},
		OnOpenat: func(dirfd int, path string, flags int) {
			if !filepath.IsAbs(path) {
				// Relative to dirfd, which this pipeline does not resolve;
				// only absolute opens are staged.
				return
			}
			stageIfReadable(bundle, path, flags, &stageErr)
		},
	}

	if err := tracer.Run(cmd, handlers); err != nil {
		return err
	}
	return stageErr
}

func stageIfReadable(bundle *bundlefs.Bundle, path string, flags int, errOut *error) {
	const oCreat = 0o100
	if flags&oCreat != 0 {
		return
	}
	if !tracer.PathExists(path) {
		return
	}
	if err := bundle.AddFileFrom(bundlefs.ProjectPath(path), path); err != nil && *errOut == nil {
		*errOut = err
	}
}

func applyFilters(bundle *bundlefs.Bundle, include, exclude []string) error {
	if len(include) > 0 {
		globs, err := compilePatterns(include)
		if err != nil {
			return err
		}
		bundle.Filter(func(p bundlefs.BundlePath) bool {
			return matchesAny(globs, p)
		})
	}
	if len(exclude) > 0 {
		globs, err := compilePatterns(exclude)
		if err != nil {
			return err
		}
		bundle.Filter(func(p bundlefs.BundlePath) bool {
			return !matchesAny(globs, p)
		})
	}
	return nil
}

// compilePatterns compiles every --include/--exclude pattern up front, with
// '/' as a path separator so a bare "*" cannot cross a path component. A
// pattern that fails to compile is fatal to the run.
func compilePatterns(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pat := range patterns {
		g, err := glob.Compile(pat, '/')
		if err != nil {
			return nil, magicerr.Wrapf(magicerr.KindInvalidGlobPattern, err, "invalid glob pattern %q", pat)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

func matchesAny(globs []glob.Glob, p bundlefs.BundlePath) bool {
	for _, g := range globs {
		if g.Match(string(p)) {
			return true
		}
	}
	return false
}

func runSmokeTest(ctx context.Context, bundle *bundlefs.Bundle, cfg Config, busybox string, primary *executable.Executable) error {
	if primary == nil {
		return fmt.Errorf("pipeline: --test requires at least one input binary")
	}

	j, err := jail.New()
	if err != nil {
		return err
	}
	defer j.Close()

	if err := bundle.Emit(j.Root); err != nil {
		return err
	}
	if err := j.InstallBusyBox(busybox); err != nil {
		return err
	}

	inJailPath := "/" + strings.TrimPrefix(primary.Path(), "/")
	return j.RunTest(ctx, inJailPath, nil, cfg.TestStdin, cfg.TestStdout, cfg.TestExitCode)
}
