// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2021, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package bin locates the external tools the bundling pipeline shells out
// to: the C compiler used to build resolver helpers, UPX for compression,
// and BusyBox for the jail smoke test.
package bin

import (
	"os"
	"os/exec"

	"github.com/coredump-labs/magicpak/internal/pkg/magicerr"
	"github.com/coredump-labs/magicpak/pkg/sylog"
)

// defaultPath is appended to $PATH before searching, so a stripped-down
// PATH (common under sudo or minimal containers) still finds tools that
// live in the usual system directories.
const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Find returns the absolute path to the named external tool. explicit, if
// non-empty, is used as-is after confirming it is runnable: this is how a
// user-supplied --cc/--upx/--busybox flag takes precedence over the PATH
// search.
func Find(name, explicit string) (string, error) {
	if explicit != "" {
		path, err := exec.LookPath(explicit)
		if err != nil {
			return "", &magicerr.Error{Kind: magicerr.KindExecutableLocateFailed, Name: explicit, Cause: err}
		}
		return path, nil
	}
	return findOnPath(name)
}

// findOnPath searches PATH, then PATH with defaultPath appended, for name.
func findOnPath(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	oldPath := os.Getenv("PATH")
	defer os.Setenv("PATH", oldPath)

	augmented := oldPath
	if augmented != "" {
		augmented += ":"
	}
	augmented += defaultPath
	os.Setenv("PATH", augmented)

	path, err := exec.LookPath(name)
	if err != nil {
		return "", &magicerr.Error{Kind: magicerr.KindExecutableLocateFailed, Name: name, Cause: err}
	}
	sylog.Debugf("found %q at %q via expanded PATH %q", name, path, augmented)
	return path, nil
}
