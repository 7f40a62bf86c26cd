// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package tracer runs a child process under ptrace and intercepts its
// open/openat syscalls, handing each pathname argument to a caller-supplied
// handler in the order the tracee issued them, driving PTRACE_* requests
// directly through golang.org/x/sys/unix.
package tracer

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/coredump-labs/magicpak/internal/pkg/magicerr"
	"github.com/coredump-labs/magicpak/pkg/sylog"
)

// Handlers receives pathname arguments extracted from traced open/openat
// syscall entries, in the tracee's syscall-entry order. Fork is not
// followed (documented limitation): only the initial tracee is observed.
type Handlers struct {
	OnOpen   func(path string, flags int)
	OnOpenat func(dirfd int, path string, flags int)
}

// PreExec returns a SysProcAttr-compatible hook to attach to an
// exec.Cmd before Start, so the child calls PTRACE_TRACEME before exec.
// Callers typically do: cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}.
func PreExec() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Ptrace: true}
}

// Run starts cmd (which must already carry the PreExec SysProcAttr),
// single-steps it through syscall-stops until exit, and delivers every
// open/openat path argument to h. Termination by signal surfaces as
// DynamicSignaled; non-zero exit as DynamicFailed.
func Run(cmd *exec.Cmd, h Handlers) error {
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Ptrace {
		cmd.SysProcAttr = PreExec()
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	pid := cmd.Process.Pid

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return err
	}

	const traceOpts = unix.PTRACE_O_TRACESYSGOOD | unix.PTRACE_O_EXITKILL
	if err := unix.PtraceSetOptions(pid, traceOpts); err != nil {
		return err
	}

	inSyscallEntry := true
	for {
		if err := unix.PtraceSyscall(pid, 0); err != nil {
			return err
		}
		if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
			return err
		}

		if ws.Exited() {
			if ws.ExitStatus() != 0 {
				return &magicerr.Error{Kind: magicerr.KindDynamicFailed, ExitStatus: ws.ExitStatus()}
			}
			return nil
		}
		if ws.Signaled() {
			return &magicerr.Error{Kind: magicerr.KindDynamicSignaled, Signal: int(ws.Signal())}
		}
		if !ws.Stopped() {
			continue
		}

		// PTRACE_O_TRACESYSGOOD makes a syscall-stop deliver SIGTRAP|0x80,
		// distinguishing it from a genuine signal-delivery stop.
		sig := ws.StopSignal()
		isSyscallStop := sig&0x80 != 0 || sig == unix.SIGTRAP

		if !isSyscallStop {
			sylog.Debugf("tracee stopped by signal %d, continuing", sig)
			if err := unix.PtraceCont(pid, int(sig)); err != nil {
				return err
			}
			continue
		}

		if inSyscallEntry {
			handleSyscallEntry(pid, h)
		}
		inSyscallEntry = !inSyscallEntry
	}
}

func handleSyscallEntry(pid int, h Handlers) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		sylog.Warningf("ptrace getregs failed: %v", err)
		return
	}

	switch syscallNumber(&regs) {
	case unix.SYS_OPEN:
		path, err := readCString(pid, uintptr(firstArg(&regs)))
		if err != nil {
			sylog.Debugf("could not read open() path argument: %v", err)
			return
		}
		if h.OnOpen != nil {
			h.OnOpen(path, int(secondArg(&regs)))
		}
	case unix.SYS_OPENAT:
		path, err := readCString(pid, uintptr(secondArg(&regs)))
		if err != nil {
			sylog.Debugf("could not read openat() path argument: %v", err)
			return
		}
		if h.OnOpenat != nil {
			h.OnOpenat(int(firstArg(&regs)), path, int(thirdArg(&regs)))
		}
	}
}

// readCString reassembles a NUL-terminated string from the tracee's memory
// one machine word at a time via PTRACE_PEEKDATA, exactly as described for
// pathname extraction: there is no bulk-read primitive that is guaranteed
// safe across page boundaries without /proc/<pid>/mem, so this takes the
// most portable route.
func readCString(pid int, addr uintptr) (string, error) {
	const wordSize = 8
	const maxLen = 4096
	var out []byte
	buf := make([]byte, wordSize)
	for len(out) < maxLen {
		n, err := unix.PtracePeekData(pid, addr+uintptr(len(out)), buf)
		if err != nil {
			return "", err
		}
		for i := 0; i < n; i++ {
			if buf[i] == 0 {
				return string(out), nil
			}
			out = append(out, buf[i])
		}
	}
	return string(out), nil
}

// PathExists reports whether path currently exists on the host, for callers
// that filter handler events down to existing files before staging them.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
