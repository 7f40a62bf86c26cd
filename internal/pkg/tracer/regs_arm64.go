// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

//go:build linux && arm64

package tracer

import "golang.org/x/sys/unix"

// syscallNumber reads the syscall number off x8, the AArch64 Linux syscall
// convention's dedicated syscall-number register.
func syscallNumber(regs *unix.PtraceRegs) uint64 { return regs.Regs[8] }

// firstArg, secondArg, thirdArg read the AArch64 syscall argument
// registers x0, x1, x2.
func firstArg(regs *unix.PtraceRegs) uint64  { return regs.Regs[0] }
func secondArg(regs *unix.PtraceRegs) uint64 { return regs.Regs[1] }
func thirdArg(regs *unix.PtraceRegs) uint64  { return regs.Regs[2] }
