// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package bundlefs

import "runtime"

// archPlatform maps the running Go binary's architecture to the platform
// string the kernel would place at AT_PLATFORM for the same machine. This
// is used once confirmation of AT_PLATFORM's presence in the auxiliary
// vector has been obtained.
func archPlatform() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "i686"
	case "arm":
		return "arm"
	default:
		return runtime.GOARCH
	}
}
