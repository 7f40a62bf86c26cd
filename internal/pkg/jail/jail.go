// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package jail provides a chroot sandbox used by the bundle smoke test,
// driven in-process via syscall.SysProcAttr since magicpak has no
// privileged-helper RPC process to delegate the chroot(2) call to.
package jail

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/coredump-labs/magicpak/internal/pkg/magicerr"
	"github.com/coredump-labs/magicpak/pkg/sylog"
)

// Jail owns a temporary directory, deleted when Close is called.
type Jail struct {
	Root string
}

// New creates a fresh owned temporary directory.
func New() (*Jail, error) {
	dir, err := os.MkdirTemp("", "magicpak_jail_*")
	if err != nil {
		return nil, err
	}
	return &Jail{Root: dir}, nil
}

// Close removes the jail's temporary directory.
func (j *Jail) Close() error {
	return os.RemoveAll(j.Root)
}

// InstallBusyBox copies the host's static BusyBox binary into
// <jail>/bin/busybox and runs its --install applet-symlink bootstrap, so
// the jail ends up with a usable /bin/sh.
func (j *Jail) InstallBusyBox(busyboxPath string) error {
	binDir := filepath.Join(j.Root, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	dst := filepath.Join(binDir, "busybox")
	if err := copyExecutable(busyboxPath, dst); err != nil {
		return magicerr.Wrapf(magicerr.KindBusyBoxInstallFailed, err, "copying busybox into jail")
	}

	cmd := exec.Command(dst, "--install", binDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return magicerr.Wrapf(magicerr.KindBusyBoxInstallFailed, err, "%s", stderr.String())
	}
	return nil
}

func copyExecutable(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o755)
}

// PreExec returns the exec.Cmd ready to run cmdPath with args inside the
// jail: its SysProcAttr.Chroot is set to the jail root, and it runs with
// the jail's own root as its working directory.
func (j *Jail) PreExec(ctx context.Context, cmdPath string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Chroot: j.Root,
	}
	cmd.Dir = "/"
	return cmd
}

// RunTest executes cmdPath inside the jail with args and stdin, comparing
// its stdout against wantStdout (skipped if empty) and its exit code
// against wantExit. sylog.Debugf traces the invocation for troubleshooting
// failed smoke tests.
func (j *Jail) RunTest(ctx context.Context, cmdPath string, args []string, stdin, wantStdout string, wantExit int) error {
	cmd := j.PreExec(ctx, cmdPath, args...)
	if stdin != "" {
		cmd.Stdin = bytesReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	sylog.Debugf("running smoke test %s %v inside jail %s", cmdPath, args, j.Root)
	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return err
		}
	}
	if exitCode != wantExit {
		e := magicerr.Wrapf(magicerr.KindTestFailed, nil, "%s exited %d, wanted %d: %s", cmdPath, exitCode, wantExit, stderr.String())
		e.ExitStatus = exitCode
		return e
	}
	if wantStdout != "" && stdout.String() != wantStdout {
		return &magicerr.Error{
			Kind:     magicerr.KindTestStdoutMismatch,
			Expected: wantStdout,
			Got:      stdout.String(),
		}
	}
	return nil
}

func bytesReader(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}
