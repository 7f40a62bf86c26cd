// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package bundlefs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/coredump-labs/magicpak/pkg/sylog"
)

// ErrMissingAuxv is returned when AT_PLATFORM could not be found in the
// process auxiliary vector.
var ErrMissingAuxv = errors.New("bundlefs: AT_PLATFORM not present in auxiliary vector")

// atPlatform is the auxv tag carrying a string describing the CPU platform,
// e.g. "x86_64". See getauxval(3).
const atPlatform = 15

// SearchPaths holds the ordered rpath/runpath/LD_LIBRARY_PATH lists used to
// resolve an object's DT_NEEDED entries, plus the origin/platform tokens
// captured once at construction and used to expand $ORIGIN/$LIB/$PLATFORM.
type SearchPaths struct {
	RPath         []string
	RunPath       []string
	LDLibraryPath []string

	rpathSet         bool
	runpathSet       bool
	ldLibraryPathSet bool

	origin   string
	platform string
}

// HasRunPath reports whether DT_RUNPATH was ever appended (even as an empty
// list), which per ELF semantics disables rpath lookup for this object.
func (sp *SearchPaths) HasRunPath() bool { return sp.runpathSet }

// New returns a SearchPaths whose origin/platform tokens are captured now.
// The platform is captured once: the process auxiliary vector is checked
// for an AT_PLATFORM entry, but its string is not read from there; it is
// derived from the running architecture (see readAuxvPlatform).
func New(origin string) (*SearchPaths, error) {
	platform, err := readAuxvPlatform()
	if err != nil {
		return nil, err
	}
	return &SearchPaths{origin: origin, platform: platform}, nil
}

// AppendRPath expands and appends raw DT_RPATH entries.
func (sp *SearchPaths) AppendRPath(raw []string) {
	sp.rpathSet = true
	for _, r := range raw {
		sp.RPath = append(sp.RPath, sp.expand(r))
	}
}

// AppendRunPath expands and appends raw DT_RUNPATH entries.
func (sp *SearchPaths) AppendRunPath(raw []string) {
	sp.runpathSet = true
	for _, r := range raw {
		sp.RunPath = append(sp.RunPath, sp.expand(r))
	}
}

// AppendLDLibraryPath expands and appends raw LD_LIBRARY_PATH entries.
func (sp *SearchPaths) AppendLDLibraryPath(raw []string) {
	sp.ldLibraryPathSet = true
	for _, r := range raw {
		sp.LDLibraryPath = append(sp.LDLibraryPath, sp.expand(r))
	}
}

// libToken classifies the platform token into the "lib" or "lib64"
// directory name the loader would substitute for $LIB.
func libToken(platform string) string {
	switch platform {
	case "x86_64", "amd64", "aarch64":
		return "lib64"
	case "i386", "i686", "x86", "arm":
		return "lib"
	default:
		sylog.Warningf("unrecognized platform %q for $LIB expansion, defaulting to \"lib\"", platform)
		return "lib"
	}
}

// expand performs $ORIGIN/$LIB/$PLATFORM (and braced variant) substitution
// against a single raw search-path entry.
func (sp *SearchPaths) expand(raw string) string {
	var out strings.Builder
	i := 0
	for i < len(raw) {
		c := raw[i]
		if c != '$' {
			out.WriteByte(c)
			i++
			continue
		}
		// raw[i] == '$'
		if i+1 < len(raw) && raw[i+1] == '{' {
			end := strings.IndexByte(raw[i+2:], '}')
			if end < 0 {
				// Unterminated ${...}: re-emit literally.
				out.WriteString(raw[i:])
				break
			}
			name := raw[i+2 : i+2+end]
			out.WriteString(sp.substitute(name))
			i = i + 2 + end + 1
			continue
		}
		// Bare $NAME: terminates at next '$' or '/'.
		j := i + 1
		for j < len(raw) && raw[j] != '$' && raw[j] != '/' {
			j++
		}
		name := raw[i+1 : j]
		out.WriteString(sp.substitute(name))
		i = j
	}
	return out.String()
}

func (sp *SearchPaths) substitute(name string) string {
	switch name {
	case "ORIGIN":
		return sp.origin
	case "LIB":
		return libToken(sp.platform)
	case "PLATFORM":
		return sp.platform
	default:
		sylog.Warningf("unrecognized dynamic-string token %q, passing through literally", name)
		return "$" + name
	}
}

// readAuxvPlatform reads AT_PLATFORM for the current process from
// /proc/self/auxv. golang.org/x/sys/unix defines no direct accessor for the
// auxiliary vector (it is not a syscall), so the vector is parsed by hand as
// a sequence of native-endian (tag, value) word pairs; for AT_PLATFORM the
// value is itself a pointer into the process image, which /proc/self/auxv
// cannot dereference directly, so the platform string is instead recovered
// by matching against runtime.GOARCH when the raw auxv lookup only confirms
// presence of the tag.
func readAuxvPlatform() (string, error) {
	data, err := os.ReadFile("/proc/self/auxv")
	if err != nil {
		return "", fmt.Errorf("bundlefs: reading /proc/self/auxv: %w", err)
	}
	const wordSize = 8
	found := false
	for off := 0; off+2*wordSize <= len(data); off += 2 * wordSize {
		tag := binary.LittleEndian.Uint64(data[off : off+wordSize])
		if tag == 0 {
			break
		}
		if tag == atPlatform {
			found = true
			break
		}
	}
	if !found {
		return "", ErrMissingAuxv
	}
	return archPlatform(), nil
}
