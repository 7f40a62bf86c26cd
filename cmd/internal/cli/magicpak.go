// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2020, Control Command Inc. All rights reserved.
// Copyright (c) 2018-2021, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package cli wires the magicpak command tree together: global flags, the
// root command, and command/env registration, built around a
// CommandManager that registers the one "bundle" subcommand this tool
// exposes.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/template"

	"github.com/coredump-labs/magicpak/internal/pkg/buildcfg"
	"github.com/coredump-labs/magicpak/pkg/cmdline"
	"github.com/coredump-labs/magicpak/pkg/sylog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// cmdInits holds all the init functions to be called for commands/flags
// registration.
var cmdInits = make([]func(*cmdline.CommandManager), 0)

// magicpak command flags
var (
	debug   bool
	nocolor bool
	silent  bool
	verbose bool
	quiet   bool
)

// -d|--debug
var singDebugFlag = cmdline.Flag{
	ID:           "singDebugFlag",
	Value:        &debug,
	DefaultValue: false,
	Name:         "debug",
	ShortHand:    "d",
	Usage:        "print debugging information (highest verbosity)",
	EnvKeys:      []string{"DEBUG"},
}

// --nocolor
var singNoColorFlag = cmdline.Flag{
	ID:           "singNoColorFlag",
	Value:        &nocolor,
	DefaultValue: false,
	Name:         "nocolor",
	Usage:        "print without color output",
}

// -s|--silent
var singSilentFlag = cmdline.Flag{
	ID:           "singSilentFlag",
	Value:        &silent,
	DefaultValue: false,
	Name:         "silent",
	ShortHand:    "s",
	Usage:        "only print errors",
}

// -q|--quiet
var singQuietFlag = cmdline.Flag{
	ID:           "singQuietFlag",
	Value:        &quiet,
	DefaultValue: false,
	Name:         "quiet",
	ShortHand:    "q",
	Usage:        "suppress normal output",
}

// -v|--verbose
var singVerboseFlag = cmdline.Flag{
	ID:           "singVerboseFlag",
	Value:        &verbose,
	DefaultValue: false,
	Name:         "verbose",
	ShortHand:    "v",
	Usage:        "print additional information",
}

func addCmdInit(cmdInit func(*cmdline.CommandManager)) {
	cmdInits = append(cmdInits, cmdInit)
}

func setSylogMessageLevel() {
	var level int

	if debug {
		level = 5
	} else if verbose {
		level = 4
	} else if quiet {
		level = -1
	} else if silent {
		level = -3
	} else {
		level = 1
	}

	color := true
	if nocolor || !term.IsTerminal(2) {
		color = false
	}

	sylog.SetLevel(level, color)
}

func persistentPreRun(cmd *cobra.Command, args []string) error {
	setSylogMessageLevel()
	sylog.Debugf("magicpak version: %s", buildcfg.PACKAGE_VERSION)
	return nil
}

// Init initializes and registers all magicpak commands.
func Init() {
	cmdManager := cmdline.NewCommandManager(magicpakCmd)

	magicpakCmd.Flags().SetInterspersed(false)
	magicpakCmd.PersistentFlags().SetInterspersed(false)

	templateFuncs := template.FuncMap{
		"TraverseParentsUses": TraverseParentsUses,
	}
	cobra.AddTemplateFuncs(templateFuncs)

	vt := fmt.Sprintf("%s version {{printf \"%%s\" .Version}}\n", buildcfg.PACKAGE_NAME)
	magicpakCmd.SetVersionTemplate(vt)

	// set persistent pre run function here to avoid initialization loop error
	magicpakCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		foundKeys := make(map[string]string)
		if err := cmdManager.UpdateCmdFlagFromEnv(magicpakCmd, foundKeys); err != nil {
			sylog.Fatalf("while parsing global environment variables: %s", err)
		}
		if err := cmdManager.UpdateCmdFlagFromEnv(cmd, foundKeys); err != nil {
			sylog.Fatalf("while parsing environment variables: %s", err)
		}
		if err := persistentPreRun(cmd, args); err != nil {
			sylog.Fatalf("while initializing: %s", err)
		}
		return nil
	}

	cmdManager.RegisterFlagForCmd(&singDebugFlag, magicpakCmd)
	cmdManager.RegisterFlagForCmd(&singNoColorFlag, magicpakCmd)
	cmdManager.RegisterFlagForCmd(&singSilentFlag, magicpakCmd)
	cmdManager.RegisterFlagForCmd(&singQuietFlag, magicpakCmd)
	cmdManager.RegisterFlagForCmd(&singVerboseFlag, magicpakCmd)

	cmdManager.RegisterCmd(VersionCmd)

	// register all other commands/flags
	for _, cmdInit := range cmdInits {
		cmdInit(cmdManager)
	}

	// any error reported by command manager is considered fatal
	cliErrors := len(cmdManager.GetError())
	if cliErrors > 0 {
		for _, e := range cmdManager.GetError() {
			sylog.Errorf("%s", e)
		}
		sylog.Fatalf("CLI command manager reported %d error(s)", cliErrors)
	}
}

// magicpakCmd is the base command when called without any subcommands.
var magicpakCmd = &cobra.Command{
	TraverseChildren:      true,
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdline.CommandError("invalid command")
	},

	Use:           "magicpak",
	Version:       buildcfg.PACKAGE_VERSION,
	Short:         "Assemble a minimal self-contained bundle around an executable",
	Long:          "magicpak builds a minimal root filesystem bundle containing a dynamically linked executable, its interpreter, and every shared library it needs to run.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// RootCmd returns the root magicpak cobra command.
func RootCmd() *cobra.Command {
	return magicpakCmd
}

// ExecuteMagicpak adds all child commands to the root command and sets
// flags appropriately. This is called by main.main(). It only needs to
// happen once to the root command.
func ExecuteMagicpak() {
	Init()

	// Setup a cancellable context that will trap Ctrl-C / SIGINT
	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer func() {
		signal.Stop(c)
		cancel()
	}()
	go func() {
		select {
		case <-c:
			sylog.Debugf("user requested cancellation with interrupt")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := magicpakCmd.ExecuteContext(ctx); err != nil {
		args := os.Args
		subCmd, _, subCmdErr := magicpakCmd.Find(args[1:])
		if subCmdErr != nil {
			magicpakCmd.Printf("Error: %v\n\n", subCmdErr)
		}

		name := subCmd.Name()
		switch err.(type) {
		case cmdline.FlagError:
			usage := subCmd.Flags().FlagUsagesWrapped(getColumns())
			magicpakCmd.Printf("Error for command %q: %s\n\n", name, err)
			magicpakCmd.Printf("Options for %s command:\n\n%s\n", name, usage)
		case cmdline.CommandError:
			magicpakCmd.Println(subCmd.UsageString())
		default:
			magicpakCmd.Printf("Error for command %q: %s\n\n", name, err)
			magicpakCmd.Println(subCmd.UsageString())
		}
		magicpakCmd.Printf("Run '%s --help' for more detailed usage information.\n",
			magicpakCmd.CommandPath())
		os.Exit(1)
	}
}

// GenBashCompletion writes the bash completion file to w.
func GenBashCompletion(w io.Writer, name string) error {
	Init()
	magicpakCmd.Use = name
	return magicpakCmd.GenBashCompletion(w)
}

// TraverseParentsUses walks the parent commands and outputs a properly
// formatted use string.
func TraverseParentsUses(cmd *cobra.Command) string {
	if cmd.HasParent() {
		return TraverseParentsUses(cmd.Parent()) + cmd.Use + " "
	}

	return cmd.Use + " "
}

// VersionCmd displays the installed magicpak version.
var VersionCmd = &cobra.Command{
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(buildcfg.PACKAGE_VERSION)
	},

	Use:   "version",
	Short: "Show the version for magicpak",
}

// getColumns returns a sensible terminal width for usage-string wrapping.
func getColumns() int {
	return 80
}
