// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package jail

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/coredump-labs/magicpak/internal/pkg/magicerr"
)

func TestNewAndClose(t *testing.T) {
	j, err := New()
	assert.NilError(t, err)

	fi, err := os.Stat(j.Root)
	assert.NilError(t, err)
	assert.Assert(t, fi.IsDir())

	assert.NilError(t, j.Close())
	_, err = os.Stat(j.Root)
	assert.Assert(t, os.IsNotExist(err))
}

func TestPreExecSetsChrootAndDir(t *testing.T) {
	j, err := New()
	assert.NilError(t, err)
	defer j.Close()

	cmd := j.PreExec(context.Background(), "/bin/true")
	assert.Equal(t, cmd.SysProcAttr.Chroot, j.Root)
	assert.Equal(t, cmd.Dir, "/")
}

func TestInstallBusyBoxCopiesAndMakesExecutable(t *testing.T) {
	busybox, err := os.CreateTemp("", "magicpak-fake-busybox")
	assert.NilError(t, err)
	defer os.Remove(busybox.Name())
	_, err = busybox.WriteString("#!/bin/sh\nexit 0\n")
	assert.NilError(t, err)
	assert.NilError(t, busybox.Close())
	assert.NilError(t, os.Chmod(busybox.Name(), 0o755))

	j, err := New()
	assert.NilError(t, err)
	defer j.Close()

	err = j.InstallBusyBox(busybox.Name())
	if err != nil {
		// --install's symlink bootstrap assumes a real BusyBox binary;
		// a shell-script stand-in fails to exec as one, which is the
		// expected shape of failure in an environment with no busybox.
		kind, ok := magicerr.KindOf(err)
		assert.Assert(t, ok)
		assert.Equal(t, kind, magicerr.KindBusyBoxInstallFailed)
		return
	}

	fi, err := os.Stat(filepath.Join(j.Root, "bin", "busybox"))
	assert.NilError(t, err)
	assert.Assert(t, fi.Mode()&0o111 != 0)
}

func TestRunTestRunsCommandInsideJail(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("chroot(2) requires root; skipping privileged jail test")
	}

	j, err := New()
	assert.NilError(t, err)
	defer j.Close()

	assert.NilError(t, os.MkdirAll(filepath.Join(j.Root, "bin"), 0o755))
	trueBin, err := os.ReadFile("/bin/true")
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(filepath.Join(j.Root, "bin", "true"), trueBin, 0o755))

	err = j.RunTest(context.Background(), "/bin/true", nil, "", "", 0)
	assert.NilError(t, err)
}
