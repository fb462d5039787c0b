// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package remotefs

import (
	"os"
	"path"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/remotefs-project/remotefs/internal/remotefs/attrcache"
	"github.com/remotefs-project/remotefs/internal/remotefs/namespace"
)

// ChangeEvent is what internal/changes hands to FileSystem after decoding
// and defaulting one fs_change payload.
type ChangeEvent struct {
	Op          string
	RelPath     string
	Name        string
	IsDir       bool
	Size        int64
	Mtime       int64
	Permissions string
	Nlink       int64
	OldPath     string
	NewPath     string
}

// ApplyChange dispatches one decoded change event against the caches and
// issues best-effort kernel invalidations. It is the sole entry point
// internal/changes.Listener calls into the dispatcher.
func (fs *FileSystem) ApplyChange(ev ChangeEvent) {
	switch ev.Op {
	case "add", "addDir":
		fs.handleAdded(ev)
	case "write", "change":
		fs.handleWritten(ev)
	case "unlink", "unlinkDir":
		fs.handleUnlinked(ev)
	case "rename", "renameDir":
		fs.handleRenamed(ev)
	default:
		// Unknown op: ignore.
	}
}

// applyMetadata always sets the child's attr cache entry from the event
// payload: learning about the child must never be conditioned on the
// parent already having a cached attr.
func (fs *FileSystem) applyMetadata(abs string, ino fuseops.InodeID, ev ChangeEvent) attrcache.Attr {
	kind := attrcache.File
	if ev.IsDir {
		kind = attrcache.Dir
	}
	attr := attrcache.Attr{
		Ino:   ino,
		Kind:  kind,
		Perm:  os.FileMode(parsePermissions(ev.Permissions)),
		Nlink: uint32(ev.Nlink),
		Size:  uint64(ev.Size),
		Uid:   fs.uid,
		Gid:   fs.gid,
		Mtime: time.Unix(ev.Mtime, 0),
		Ctime: time.Unix(ev.Mtime, 0),
	}
	fs.attrs.Set(abs, attr)
	return attr
}

// refreshParentIfCached evicts the parent's attr entry only if one was
// already present, decoupling "the child changed" from "the parent's
// nlink/size is now possibly stale".
func (fs *FileSystem) refreshParentIfCached(parent string) {
	if _, ok := fs.attrs.Get(parent); ok {
		fs.attrs.Remove(parent)
	}
}

func (fs *FileSystem) childName(ev ChangeEvent, abs string) string {
	if ev.Name != "" {
		return ev.Name
	}
	return path.Base(abs)
}

func (fs *FileSystem) handleAdded(ev ChangeEvent) {
	abs := namespace.AbsFromDBRelative(ev.RelPath)
	parent := path.Dir(abs)
	name := fs.childName(ev, abs)

	if ino, known := fs.ns.InoOf(abs); known {
		fs.applyMetadata(abs, ino, ev)
		return
	}

	ino := fs.ns.AllocateIno(abs)
	fs.applyMetadata(abs, ino, ev)
	fs.dirs.Invalidate(parent)
	fs.refreshParentIfCached(parent)

	if parentIno, ok := fs.ns.InoOf(parent); ok {
		_ = fs.notifier.InvalidateEntry(parentIno, name)
	}
	_ = fs.notifier.InvalidateInode(ino, 0, 0)
}

func (fs *FileSystem) handleWritten(ev ChangeEvent) {
	abs := namespace.AbsFromDBRelative(ev.RelPath)
	ino, known := fs.ns.InoOf(abs)
	if !known {
		return
	}
	fs.applyMetadata(abs, ino, ev)
	_ = fs.notifier.InvalidateInode(ino, 0, 0)
}

func (fs *FileSystem) handleUnlinked(ev ChangeEvent) {
	abs := namespace.AbsFromDBRelative(ev.RelPath)
	parent := path.Dir(abs)
	name := fs.childName(ev, abs)

	if parentIno, ok := fs.ns.InoOf(parent); ok {
		_ = fs.notifier.InvalidateEntry(parentIno, name)
		_ = fs.notifier.InvalidateInode(parentIno, 0, 0)
	}

	fs.ns.RemovePath(abs)
	fs.attrs.Remove(abs)
	fs.dirs.Invalidate(parent)
}

func (fs *FileSystem) handleRenamed(ev ChangeEvent) {
	oldAbs := namespace.AbsFromDBRelative(ev.OldPath)
	newAbs := namespace.AbsFromDBRelative(ev.NewPath)
	oldParent := path.Dir(oldAbs)
	newParent := path.Dir(newAbs)
	oldName := path.Base(oldAbs)

	if oldParentIno, ok := fs.ns.InoOf(oldParent); ok {
		_ = fs.notifier.InvalidateEntry(oldParentIno, oldName)
		_ = fs.notifier.InvalidateInode(oldParentIno, 0, 0)
	}

	ino, known := fs.ns.InoOf(oldAbs)
	if known {
		fs.ns.RemovePath(oldAbs)
		fs.ns.InsertPathMapping(newAbs, ino)
		fs.attrs.Remove(oldAbs)
	} else {
		ino = fs.ns.AllocateIno(newAbs)
	}

	// Destination metadata is always keyed on newAbs, never on whatever the
	// payload's relPath happens to derive.
	fs.applyMetadata(newAbs, ino, ev)

	fs.dirs.Invalidate(oldParent)
	fs.dirs.Invalidate(newParent)

	if newParentIno, ok := fs.ns.InoOf(newParent); ok {
		_ = fs.notifier.InvalidateInode(newParentIno, 0, 0)
	}
	_ = fs.notifier.InvalidateInode(ino, 0, 0)
}
