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
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/coredump-labs/magicpak/internal/pkg/magicerr"
	"github.com/coredump-labs/magicpak/pkg/sylog"
)

type sourceKind int

const (
	sourceDirectory sourceKind = iota
	sourceFile
	sourceCopy
)

// source is the tagged union backing each bundle entry: a directory to
// create, literal bytes to write, or a host path to copy from on emit.
type source struct {
	kind  sourceKind
	bytes []byte
	from  string
}

// Bundle is the in-memory, order-insensitive staging map from BundlePath to
// source. It is mutated by the driver between analysis steps and emitted
// once, atomically from the caller's point of view, to a destination root.
type Bundle struct {
	entries map[BundlePath]source
}

// New returns an empty Bundle.
func New() *Bundle {
	return &Bundle{entries: make(map[BundlePath]source)}
}

// Mkdir records that dest/p must exist as a directory on emit.
func (b *Bundle) Mkdir(p BundlePath) {
	b.entries[p] = source{kind: sourceDirectory}
}

// AddFile records literal bytes to be written at p on emit.
func (b *Bundle) AddFile(p BundlePath, data []byte) {
	b.entries[p] = source{kind: sourceFile, bytes: data}
}

// AddFileFrom records a copy-from-host entry. hostSrc must be an absolute
// path; it need not exist yet (non-existence is tolerated, and only
// reported, at emit time).
func (b *Bundle) AddFileFrom(p BundlePath, hostSrc string) error {
	if !filepath.IsAbs(hostSrc) {
		return fmt.Errorf("bundlefs: copy source %q is not absolute", hostSrc)
	}
	b.entries[p] = source{kind: sourceCopy, from: hostSrc}
	return nil
}

// hasPath is satisfied by internal/pkg/executable.Executable without this
// package importing it, avoiding an import cycle.
type hasPath interface {
	Path() string
}

// AddPseudoProc adds a copy-from entry at proc/self/exe pointing at exe's
// own path, so that programs which introspect their own executable path
// can observe one inside the jail.
func (b *Bundle) AddPseudoProc(exe hasPath) error {
	p, err := FromLiteral("proc/self/exe")
	if err != nil {
		return err
	}
	return b.AddFileFrom(p, exe.Path())
}

// Resource is anything that knows how to add itself to a Bundle: a host
// path, an optional resource, or a sequence of resources. There is no
// inheritance here, just three small implementations of one method.
type Resource interface {
	bundleTo(b *Bundle) error
}

// PathResource adds the BundlePath-projection of a single absolute host
// path as a copy-from entry.
type PathResource string

func (p PathResource) bundleTo(b *Bundle) error {
	return b.AddFileFrom(ProjectPath(string(p)), string(p))
}

// OptionalResource adds nothing when Value is nil, otherwise delegates to
// PathResource.
type OptionalResource struct {
	Value *string
}

func (o OptionalResource) bundleTo(b *Bundle) error {
	if o.Value == nil {
		return nil
	}
	return PathResource(*o.Value).bundleTo(b)
}

// SliceResource adds every element in order.
type SliceResource []Resource

func (s SliceResource) bundleTo(b *Bundle) error {
	for _, r := range s {
		if err := r.bundleTo(b); err != nil {
			return err
		}
	}
	return nil
}

// Add dispatches to r's own bundling logic.
func (b *Bundle) Add(r Resource) error {
	return r.bundleTo(b)
}

// Filter retains only the entries whose key satisfies pred.
func (b *Bundle) Filter(pred func(BundlePath) bool) {
	for k := range b.entries {
		if !pred(k) {
			delete(b.entries, k)
		}
	}
}

// Len reports the number of entries currently staged.
func (b *Bundle) Len() int { return len(b.entries) }

// preflight implements the destination-emptiness contract from the external
// interfaces: the destination must not exist, or must exist as an empty
// directory.
func preflight(dest string) error {
	fi, err := os.Stat(dest)
	if os.IsNotExist(err) {
		return os.MkdirAll(dest, 0o755)
	}
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return magicerr.Wrapf(magicerr.KindInvalidDestination, nil, "%s is not a directory", dest)
	}
	entries, err := os.ReadDir(dest)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return magicerr.Wrapf(magicerr.KindNonEmptyDestination, nil, "%s", dest)
	}
	return nil
}

// Emit materializes every staged entry under dest, which must either not
// exist yet or exist as an empty directory.
func (b *Bundle) Emit(dest string) error {
	if !filepath.IsAbs(dest) {
		return fmt.Errorf("bundlefs: destination %q is not absolute", dest)
	}
	if err := preflight(dest); err != nil {
		return err
	}

	var bar *mpb.Bar
	var progress *mpb.Progress
	if sylog.GetLevel() > -1 && len(b.entries) > 0 {
		progress = mpb.New()
		bar = progress.AddBar(int64(len(b.entries)),
			mpb.PrependDecorators(decor.Name("staging ")),
			mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
		)
		defer progress.Wait()
	}

	for key, src := range b.entries {
		if bar != nil {
			bar.Increment()
		}
		switch src.kind {
		case sourceDirectory:
			target, err := key.Reify(dest)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case sourceFile:
			target, err := key.Reify(dest)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(target, src.bytes, 0o644); err != nil {
				return err
			}
		case sourceCopy:
			if err := syncCopy(src.from, key, dest); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyTask is one pending (host source, bundle key) pair in sync_copy's
// iterative work list.
type copyTask struct {
	from string
	to   BundlePath
}

// syncCopy stages a single host path, following and preserving symlink
// chains instead of resolving them away: for a chain z -> y -> x, staging
// any one of the three installs all three under their own absolute-path
// projections, so a chrooted consumer can still walk the chain.
//
// Implemented iteratively (an explicit work list) rather than via direct
// recursion, since the chain length is attacker/input controlled.
func syncCopy(from string, to BundlePath, dest string) error {
	work := []copyTask{{from: from, to: to}}
	for len(work) > 0 {
		task := work[0]
		work = work[1:]

		target, err := task.to.Reify(dest)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		fi, err := os.Lstat(task.from)
		if os.IsNotExist(err) {
			sylog.Warningf("skipping missing source %s", task.from)
			continue
		}
		if err != nil {
			return err
		}

		if fi.Mode()&os.ModeSymlink != 0 {
			linkDest, err := os.Readlink(task.from)
			if err != nil {
				return err
			}
			linkDestAbs := linkDest
			if !filepath.IsAbs(linkDestAbs) {
				linkDestAbs = filepath.Join(filepath.Dir(task.from), linkDest)
			}

			// The link is installed at the key's own location: only the
			// parent is resolved inside dest, since resolving the full key
			// would follow a link already installed there.
			linkParent, err := BundlePath(filepath.Dir(string(task.to))).Reify(dest)
			if err != nil {
				return err
			}
			target = filepath.Join(linkParent, filepath.Base(string(task.to)))

			if existing, err := os.Readlink(target); err == nil && existing == linkDestAbs {
				// Idempotent: already installed correctly, and this also
				// breaks a true cycle of absolute symlinks once it has
				// gone around once.
				continue
			}
			_ = os.Remove(target)
			if err := os.Symlink(linkDestAbs, target); err != nil {
				return err
			}
			work = append(work, copyTask{from: linkDestAbs, to: ProjectPath(linkDestAbs)})
			continue
		}

		if err := copyRegularFile(task.from, target, fi.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}

func copyRegularFile(from, to string, perm os.FileMode) error {
	src, err := os.Open(from)
	if err != nil {
		if os.IsNotExist(err) {
			sylog.Warningf("skipping missing source %s", from)
			return nil
		}
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Chmod(perm)
}
