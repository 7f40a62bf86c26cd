// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package cmdline provides a thin registration layer on top of cobra/pflag
// so that every flag also carries an ID (for cross-command lookup) and an
// ordered list of environment variable names consulted after normal flag
// parsing.
package cmdline

import (
	"fmt"
)

// Flag holds information about a command flag so that it can be both
// registered with cobra/pflag and later updated from the environment.
type Flag struct {
	// ID uniquely identifies the flag across commands so it can be looked
	// up again via CommandManager.Flag.
	ID string
	// Value is a pointer to the variable the flag is bound to.
	Value interface{}
	// DefaultValue is the flag's default, of the same underlying type as Value.
	DefaultValue interface{}

	Name      string
	ShortHand string
	Usage     string

	// EnvKeys are environment variable suffixes consulted, in order, when
	// the flag was not explicitly set on the command line. The full
	// variable name is EnvPrefix + EnvKeys[i].
	EnvKeys []string
	// WithoutPrefix skips EnvPrefix when resolving EnvKeys, for flags
	// that mirror a well-known external environment variable verbatim.
	WithoutPrefix bool

	Deprecated string
	Hidden     bool
	Required   bool
}

// FlagError indicates that a flag was misused on the command line.
type FlagError string

func (e FlagError) Error() string { return string(e) }

// CommandError indicates that a command was invoked incorrectly.
type CommandError string

func (e CommandError) Error() string { return string(e) }

func registerFlagByType(flags cobraFlagSet, f *Flag) error {
	switch v := f.Value.(type) {
	case *string:
		def, ok := f.DefaultValue.(string)
		if !ok {
			return fmt.Errorf("flag %q: default value %T does not match string", f.Name, f.DefaultValue)
		}
		flags.StringVarP(v, f.Name, f.ShortHand, def, f.Usage)
	case *bool:
		def, ok := f.DefaultValue.(bool)
		if !ok {
			return fmt.Errorf("flag %q: default value %T does not match bool", f.Name, f.DefaultValue)
		}
		flags.BoolVarP(v, f.Name, f.ShortHand, def, f.Usage)
	case *int:
		def, ok := f.DefaultValue.(int)
		if !ok {
			return fmt.Errorf("flag %q: default value %T does not match int", f.Name, f.DefaultValue)
		}
		flags.IntVarP(v, f.Name, f.ShortHand, def, f.Usage)
	case *uint32:
		def, ok := f.DefaultValue.(uint32)
		if !ok {
			return fmt.Errorf("flag %q: default value %T does not match uint32", f.Name, f.DefaultValue)
		}
		flags.Uint32VarP(v, f.Name, f.ShortHand, def, f.Usage)
	case *[]string:
		def, ok := f.DefaultValue.([]string)
		if !ok && f.DefaultValue != nil {
			return fmt.Errorf("flag %q: default value %T does not match []string", f.Name, f.DefaultValue)
		}
		flags.StringSliceVarP(v, f.Name, f.ShortHand, def, f.Usage)
	case *map[string]string:
		def, ok := f.DefaultValue.(map[string]string)
		if !ok && f.DefaultValue != nil {
			return fmt.Errorf("flag %q: default value %T does not match map[string]string", f.Name, f.DefaultValue)
		}
		flags.StringToStringVarP(v, f.Name, f.ShortHand, def, f.Usage)
	default:
		return fmt.Errorf("flag %q has unsupported value type %T", f.Name, f.Value)
	}
	return nil
}

// cobraFlagSet is the subset of *pflag.FlagSet methods used above, kept as
// an interface purely so tests can exercise registerFlagByType without a
// real cobra.Command.
type cobraFlagSet interface {
	StringVarP(p *string, name, shorthand string, value string, usage string)
	BoolVarP(p *bool, name, shorthand string, value bool, usage string)
	IntVarP(p *int, name, shorthand string, value int, usage string)
	Uint32VarP(p *uint32, name, shorthand string, value uint32, usage string)
	StringSliceVarP(p *[]string, name, shorthand string, value []string, usage string)
	StringToStringVarP(p *map[string]string, name, shorthand string, value map[string]string, usage string)
}
