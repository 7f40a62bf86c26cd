// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package buildcfg holds values normally stamped in at link time via
// -ldflags, with sane development defaults.
package buildcfg

import "github.com/blang/semver/v4"

// Overridable at link time with:
//
//	go build -ldflags "-X github.com/coredump-labs/magicpak/internal/pkg/buildcfg.PACKAGE_VERSION=1.2.3"
var (
	PACKAGE_NAME    = "magicpak"
	PACKAGE_VERSION = "0.0.0-dev"
)

// Version parses PACKAGE_VERSION as semver, falling back to 0.0.0 if the
// linker stamped something unparsable (e.g. a bare git describe string).
func Version() semver.Version {
	v, err := semver.ParseTolerant(PACKAGE_VERSION)
	if err != nil {
		return semver.Version{}
	}
	return v
}
