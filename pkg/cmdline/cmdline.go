// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package cmdline

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// EnvPrefix is prepended to a Flag's EnvKeys to form the environment
// variable name consulted during CommandManager.UpdateCmdFlagFromEnv,
// unless the flag sets WithoutPrefix.
const EnvPrefix = "MAGICPAK_"

// CommandManager registers commands and flags onto a cobra command tree,
// remembering enough about each flag (its ID and env keys) to resolve
// environment-variable overrides after pflag has parsed argv.
type CommandManager struct {
	rootCmd *cobra.Command
	flags   map[string]*Flag
	errPool []error
}

// NewCommandManager returns a CommandManager rooted at root.
func NewCommandManager(root *cobra.Command) *CommandManager {
	return &CommandManager{
		rootCmd: root,
		flags:   make(map[string]*Flag),
	}
}

// RegisterCmd adds cmd as a child of the manager's root command.
func (m *CommandManager) RegisterCmd(cmd *cobra.Command) {
	m.rootCmd.AddCommand(cmd)
}

// RegisterSubCmd adds child as a subcommand of parent.
func (m *CommandManager) RegisterSubCmd(parent, child *cobra.Command) {
	parent.AddCommand(child)
}

// RegisterFlagForCmd binds f onto cmd's flag set. Errors (nil flag, nil
// command, unsupported value type, duplicate ID) are collected rather than
// returned, matching cobra's own "register everything, report once" idiom
// used for the root command.
func (m *CommandManager) RegisterFlagForCmd(f *Flag, cmds ...*cobra.Command) {
	if f == nil {
		m.pushErr(fmt.Errorf("nil flag passed to RegisterFlagForCmd"))
		return
	}
	if len(cmds) == 0 {
		m.pushErr(fmt.Errorf("flag %q registered with no target command", f.Name))
		return
	}
	for _, cmd := range cmds {
		if cmd == nil {
			m.pushErr(fmt.Errorf("nil command passed to RegisterFlagForCmd for flag %q", f.Name))
			continue
		}
		if err := registerFlagByType(cmd.Flags(), f); err != nil {
			m.pushErr(err)
			continue
		}
		fl := cmd.Flags().Lookup(f.Name)
		if fl == nil {
			m.pushErr(fmt.Errorf("flag %q was not registered on command %q", f.Name, cmd.Name()))
			continue
		}
		if f.Hidden {
			fl.Hidden = true
		}
		if f.Deprecated != "" {
			fl.Deprecated = f.Deprecated
		}
		if f.Required {
			_ = cmd.MarkFlagRequired(f.Name)
		}
		if f.ID != "" {
			if _, dup := m.flags[f.ID]; dup {
				m.pushErr(fmt.Errorf("duplicate flag ID %q", f.ID))
				continue
			}
			m.flags[f.ID] = f
		}
	}
}

// Flag looks up a previously registered flag by its ID.
func (m *CommandManager) Flag(id string) *Flag {
	return m.flags[id]
}

// GetError returns every error accumulated by RegisterFlagForCmd calls so
// far; callers typically treat a non-empty result as fatal at startup.
func (m *CommandManager) GetError() []error {
	return m.errPool
}

func (m *CommandManager) pushErr(err error) {
	m.errPool = append(m.errPool, err)
}

// UpdateCmdFlagFromEnv walks cmd's registered flags and, for each flag that
// was not explicitly set on the command line, applies the first environment
// variable among its EnvKeys that is present. foundKeys records which
// environment variable name ended up winning for each flag name, so that a
// caller invoking this twice (once for the root command, once for a
// subcommand) can warn on conflicting overrides instead of silently
// clobbering one with the other.
func (m *CommandManager) UpdateCmdFlagFromEnv(cmd *cobra.Command, foundKeys map[string]string) error {
	var firstErr error
	for _, f := range m.flags {
		if cmd.Flags().Lookup(f.Name) == nil {
			continue
		}
		if len(f.EnvKeys) == 0 {
			continue
		}
		pflag := cmd.Flags().Lookup(f.Name)
		if pflag.Changed {
			continue
		}
		for _, key := range f.EnvKeys {
			envName := key
			if !f.WithoutPrefix {
				envName = EnvPrefix + key
			}
			raw, ok := os.LookupEnv(envName)
			if !ok {
				continue
			}
			if err := pflag.Value.Set(raw); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("invalid value %q for environment variable %s: %w", raw, envName, err)
				}
				continue
			}
			pflag.Changed = true
			if prev, ok := foundKeys[f.Name]; ok && prev != envName {
				firstErr = fmt.Errorf("flag %q already overridden by %s, ignoring %s", f.Name, prev, envName)
			}
			foundKeys[f.Name] = envName
			break
		}
	}
	return firstErr
}

// ParseBool is a small helper for flags whose EnvKeys carry a boolean value
// encoded as "1"/"0"/"true"/"false".
func ParseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "1" {
		return true, nil
	}
	if s == "0" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
