// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/coredump-labs/magicpak/internal/pkg/pipeline"
	"github.com/coredump-labs/magicpak/pkg/cmdline"
)

var (
	bundleCC           string
	bundleUPX          string
	bundleBusyBox      string
	bundleCompress     bool
	bundleDynamic      bool
	bundleTest         bool
	bundleTestStdout   string
	bundleTestStdin    string
	bundleTestExitCode int
	bundleInclude      []string
	bundleExclude      []string
	bundleMkdirs       []string
)

var bundleCCFlag = cmdline.Flag{
	ID:            "bundleCCFlag",
	Value:         &bundleCC,
	DefaultValue:  "",
	Name:          "cc",
	Usage:         "C compiler used to build dynamic-loader resolver helpers (defaults to PATH search for \"cc\")",
	EnvKeys:       []string{"CC"},
	WithoutPrefix: true,
}

var bundleUPXFlag = cmdline.Flag{
	ID:           "bundleUPXFlag",
	Value:        &bundleUPX,
	DefaultValue: "",
	Name:         "upx",
	Usage:        "UPX binary used when --compress is set (defaults to PATH search for \"upx\")",
}

var bundleBusyBoxFlag = cmdline.Flag{
	ID:           "bundleBusyBoxFlag",
	Value:        &bundleBusyBox,
	DefaultValue: "",
	Name:         "busybox",
	Usage:        "static BusyBox binary used when --test is set (defaults to PATH search for \"busybox\")",
}

var bundleCompressFlag = cmdline.Flag{
	ID:           "bundleCompressFlag",
	Value:        &bundleCompress,
	DefaultValue: false,
	Name:         "compress",
	Usage:        "compress the input binary with UPX before staging it",
}

var bundleDynamicFlag = cmdline.Flag{
	ID:           "bundleDynamicFlag",
	Value:        &bundleDynamic,
	DefaultValue: false,
	Name:         "dynamic",
	Usage:        "trace the binary's runtime file opens and stage whatever it actually touches (single binary only)",
}

var bundleTestFlag = cmdline.Flag{
	ID:           "bundleTestFlag",
	Value:        &bundleTest,
	DefaultValue: false,
	Name:         "test",
	Usage:        "run the bundled binary inside a chroot jail as a smoke test before emitting (single binary only)",
}

var bundleTestStdoutFlag = cmdline.Flag{
	ID:           "bundleTestStdoutFlag",
	Value:        &bundleTestStdout,
	DefaultValue: "",
	Name:         "test-stdout",
	Usage:        "expected stdout for the --test smoke test; empty skips the comparison",
}

var bundleTestStdinFlag = cmdline.Flag{
	ID:           "bundleTestStdinFlag",
	Value:        &bundleTestStdin,
	DefaultValue: "",
	Name:         "test-stdin",
	Usage:        "stdin fed to the --test smoke test",
}

var bundleTestExitCodeFlag = cmdline.Flag{
	ID:           "bundleTestExitCodeFlag",
	Value:        &bundleTestExitCode,
	DefaultValue: 0,
	Name:         "test-exit-code",
	Usage:        "expected exit code for the --test smoke test",
}

var bundleIncludeFlag = cmdline.Flag{
	ID:           "bundleIncludeFlag",
	Value:        &bundleInclude,
	DefaultValue: []string{},
	Name:         "include",
	Usage:        "glob; when given, only bundle paths matching at least one --include survive",
}

var bundleExcludeFlag = cmdline.Flag{
	ID:           "bundleExcludeFlag",
	Value:        &bundleExclude,
	DefaultValue: []string{},
	Name:         "exclude",
	Usage:        "glob; bundle paths matching any --exclude are dropped",
}

var bundleMkdirFlag = cmdline.Flag{
	ID:           "bundleMkdirFlag",
	Value:        &bundleMkdirs,
	DefaultValue: []string{},
	Name:         "mkdir",
	Usage:        "absolute path of an empty directory to create inside the bundle",
}

func init() {
	addCmdInit(func(cmdManager *cmdline.CommandManager) {
		cmdManager.RegisterCmd(BundleCmd)
		cmdManager.RegisterFlagForCmd(&bundleCCFlag, BundleCmd)
		cmdManager.RegisterFlagForCmd(&bundleUPXFlag, BundleCmd)
		cmdManager.RegisterFlagForCmd(&bundleBusyBoxFlag, BundleCmd)
		cmdManager.RegisterFlagForCmd(&bundleCompressFlag, BundleCmd)
		cmdManager.RegisterFlagForCmd(&bundleDynamicFlag, BundleCmd)
		cmdManager.RegisterFlagForCmd(&bundleTestFlag, BundleCmd)
		cmdManager.RegisterFlagForCmd(&bundleTestStdoutFlag, BundleCmd)
		cmdManager.RegisterFlagForCmd(&bundleTestStdinFlag, BundleCmd)
		cmdManager.RegisterFlagForCmd(&bundleTestExitCodeFlag, BundleCmd)
		cmdManager.RegisterFlagForCmd(&bundleIncludeFlag, BundleCmd)
		cmdManager.RegisterFlagForCmd(&bundleExcludeFlag, BundleCmd)
		cmdManager.RegisterFlagForCmd(&bundleMkdirFlag, BundleCmd)
	})
}

// BundleCmd implements "magicpak bundle <destination> <binary>...".
var BundleCmd = &cobra.Command{
	Use:                   "bundle <destination> <binary>...",
	Short:                 "Assemble a minimal self-contained bundle around one or more executables",
	DisableFlagsInUseLine: true,
	Args:                  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		destination := args[0]
		binaries := args[1:]

		if len(binaries) > 1 && (bundleDynamic || bundleTest) {
			return cmdline.CommandError("--dynamic and --test each require exactly one input binary")
		}

		cfg := pipeline.Config{
			Binaries:     binaries,
			Destination:  destination,
			CC:           bundleCC,
			UPX:          bundleUPX,
			Compress:     bundleCompress,
			Dynamic:      bundleDynamic,
			Test:         bundleTest,
			TestStdout:   bundleTestStdout,
			TestExitCode: bundleTestExitCode,
			TestStdin:    bundleTestStdin,
			BusyBox:      bundleBusyBox,
			Include:      bundleInclude,
			Exclude:      bundleExclude,
			Mkdirs:       bundleMkdirs,
		}

		if err := pipeline.Run(cmd.Context(), cfg); err != nil {
			return fmt.Errorf("%w", err)
		}

		done := color.New(color.FgGreen).Sprint("done")
		fmt.Fprintf(cmd.OutOrStdout(), "%s bundle written to %s\n", done, destination)
		return nil
	},

	Example: "  magicpak bundle ./out /usr/bin/curl\n  magicpak bundle --dynamic --test --test-exit-code 0 ./out /usr/bin/curl",
}
