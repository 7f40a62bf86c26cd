// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

//go:build linux && amd64

package tracer

import "golang.org/x/sys/unix"

// syscallNumber reads the syscall number captured by the kernel at
// syscall-entry (orig_rax on x86-64, which differs from rax so the kernel
// can tell a syscall-entry stop from a -ENOSYS return already in rax).
func syscallNumber(regs *unix.PtraceRegs) uint64 { return regs.Orig_rax }

// firstArg, secondArg, thirdArg read the SysV AMD64 syscall argument
// registers: rdi, rsi, rdx.
func firstArg(regs *unix.PtraceRegs) uint64  { return regs.Rdi }
func secondArg(regs *unix.PtraceRegs) uint64 { return regs.Rsi }
func thirdArg(regs *unix.PtraceRegs) uint64  { return regs.Rdx }
