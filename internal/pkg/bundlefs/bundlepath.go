// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package bundlefs implements the in-memory, content-addressed staging tree
// ("bundle") that gets emitted onto a destination directory, plus the
// supporting BundlePath key type and dynamic-loader SearchPaths record.
package bundlefs

import (
	"fmt"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// BundlePath is a root-relative path used as the staging map's key. Equality
// and hashing are byte-identical to the underlying path string, so it is
// just a defined string type rather than a parsed component list.
type BundlePath string

// ProjectPath strips exactly one leading '/' from an absolute host path.
// Any further leading slashes are preserved byte-for-byte: they are
// deliberately exposed as meaningful key collisions rather than normalized
// away.
func ProjectPath(absolute string) BundlePath {
	return BundlePath(strings.TrimPrefix(absolute, "/"))
}

// FromLiteral builds a BundlePath from a string that is already
// root-relative. It is an error for s to begin with '/'.
func FromLiteral(s string) (BundlePath, error) {
	if strings.HasPrefix(s, "/") {
		return "", fmt.Errorf("bundlefs: literal bundle path %q must not begin with '/'", s)
	}
	return BundlePath(s), nil
}

// Reify resolves the BundlePath against a destination root, which must
// itself be absolute. The join is a plain concatenation rather than
// filepath.Join so that the byte-exact projection invariant
// (reify(dest, project(p)) == dest+p) holds even for the deliberately
// preserved extra-leading-slash edge case.
func (b BundlePath) Reify(dest string) (string, error) {
	if !filepath.IsAbs(dest) {
		return "", fmt.Errorf("bundlefs: destination %q is not absolute", dest)
	}
	if strings.HasPrefix(string(b), "/") {
		// A key produced from a doubly-rooted absolute path; concatenate
		// verbatim rather than routing through SecureJoin, which would
		// collapse the duplicate separator and break the projection
		// invariant.
		return dest + "/" + string(b), nil
	}
	return securejoin.SecureJoin(dest, string(b))
}

// String returns the path's raw bytes.
func (b BundlePath) String() string {
	return string(b)
}
