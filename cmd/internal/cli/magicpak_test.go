// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2020, Control Command Inc. All rights reserved.
// Copyright (c) 2018-2021, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"gotest.tools/v3/assert"

	"github.com/coredump-labs/magicpak/pkg/sylog"
)

func resetVerbosityFlags() {
	debug, nocolor, silent, verbose, quiet = false, false, false, false, false
}

func TestSetSylogMessageLevel(t *testing.T) {
	defer resetVerbosityFlags()

	tests := []struct {
		name  string
		setup func()
		want  int
	}{
		{name: "default", setup: func() {}, want: 1},
		{name: "quiet", setup: func() { quiet = true }, want: -1},
		{name: "silent", setup: func() { silent = true }, want: -3},
		{name: "verbose", setup: func() { verbose = true }, want: 4},
		{name: "debug takes priority over verbose", setup: func() { debug = true; verbose = true }, want: 5},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			resetVerbosityFlags()
			test.setup()
			setSylogMessageLevel()
			assert.Equal(t, sylog.GetLevel(), test.want)
		})
	}
}

func TestTraverseParentsUses(t *testing.T) {
	root := &cobra.Command{Use: "magicpak"}
	child := &cobra.Command{Use: "bundle"}
	root.AddCommand(child)

	assert.Equal(t, TraverseParentsUses(root), "magicpak ")
	assert.Equal(t, TraverseParentsUses(child), "magicpak bundle ")
}

func TestRootCmdIsSingleton(t *testing.T) {
	assert.Assert(t, RootCmd() == magicpakCmd)
}
