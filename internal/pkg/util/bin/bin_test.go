// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package bin

import (
	"os"
	"os/exec"
	"testing"
)

func TestFindExplicit(t *testing.T) {
	truePath, err := exec.LookPath("cp")
	if err != nil {
		t.Skipf("cp not on PATH: %v", err)
	}

	path, err := Find("cp", truePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != truePath {
		t.Errorf("got %q, expected %q", path, truePath)
	}
}

func TestFindExplicitMissing(t *testing.T) {
	_, err := Find("cp", "/no/such/tool")
	if err == nil {
		t.Fatal("expected error for nonexistent explicit path")
	}
}

func TestFindOnPath(t *testing.T) {
	truePath, err := exec.LookPath("cp")
	if err != nil {
		t.Skipf("cp not on PATH: %v", err)
	}

	t.Run("sensible path", func(t *testing.T) {
		gotPath, err := findOnPath("cp")
		if err != nil {
			t.Errorf("unexpected error from findOnPath: %v", err)
		}
		if gotPath != truePath {
			t.Errorf("got %q, expected %q", gotPath, truePath)
		}
	})

	t.Run("stripped path falls back to defaultPath", func(t *testing.T) {
		oldPath := os.Getenv("PATH")
		defer os.Setenv("PATH", oldPath)
		os.Setenv("PATH", "/invalid/dir")

		gotPath, err := findOnPath("cp")
		if err != nil {
			t.Errorf("unexpected error from findOnPath: %v", err)
		}
		if gotPath == "" {
			t.Errorf("expected a path, got empty string")
		}
	})
}

func TestFindUnknown(t *testing.T) {
	_, err := Find("definitely-not-a-real-tool-xyz", "")
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
}
