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

// Package namespace maintains the bijection between absolute paths and
// inode numbers: every live inode maps to exactly one path and vice versa.
package namespace

import (
	"path"
	"strings"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"
)

// RootPath is the permanently-mapped root of the mounted filesystem.
const RootPath = "/"

// Namespace holds the path<->inode bijection. The zero value is not usable;
// construct with New.
type Namespace struct {
	mu syncutil.InvariantMutex

	inoByPath map[string]fuseops.InodeID // GUARDED_BY(mu)
	pathByIno map[fuseops.InodeID]string // GUARDED_BY(mu)
	nextIno   fuseops.InodeID            // GUARDED_BY(mu)
}

// New returns a Namespace with only the root entry populated: the root
// path always maps to fuseops.RootInodeID.
func New() *Namespace {
	ns := &Namespace{
		inoByPath: map[string]fuseops.InodeID{RootPath: fuseops.RootInodeID},
		pathByIno: map[fuseops.InodeID]string{fuseops.RootInodeID: RootPath},
		nextIno:   fuseops.RootInodeID + 1,
	}
	ns.mu = syncutil.NewInvariantMutex(ns.checkInvariants)
	return ns
}

// checkInvariants re-verifies that the path<->inode mapping stays a
// bijection. It is wired into the InvariantMutex and runs on every Lock/Unlock
// when jacobsa/syncutil's invariant checking is enabled; it is a no-op
// overhead otherwise.
func (ns *Namespace) checkInvariants() {
	if ns.inoByPath[RootPath] != fuseops.RootInodeID {
		panic("namespace: root path is not bound to the root inode")
	}
	if ns.pathByIno[fuseops.RootInodeID] != RootPath {
		panic("namespace: root inode is not bound to the root path")
	}
	for p, i := range ns.inoByPath {
		if ns.pathByIno[i] != p {
			panic("namespace: ino_by_path/path_by_ino are not mutual inverses for " + p)
		}
	}
}

// InoOf returns the inode bound to path p, if any.
func (ns *Namespace) InoOf(p string) (fuseops.InodeID, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ino, ok := ns.inoByPath[p]
	return ino, ok
}

// PathOf returns the path bound to inode ino, if any.
func (ns *Namespace) PathOf(ino fuseops.InodeID) (string, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	p, ok := ns.pathByIno[ino]
	return p, ok
}

// AllocateIno binds a fresh inode to p, bumping the monotonic counter, and
// returns it. If p is already bound, the existing inode is returned instead
// of allocating a new one, since inode allocation must be idempotent per
// path.
func (ns *Namespace) AllocateIno(p string) fuseops.InodeID {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ino, ok := ns.inoByPath[p]; ok {
		return ino
	}

	ino := ns.nextIno
	ns.nextIno++
	ns.inoByPath[p] = ino
	ns.pathByIno[ino] = p
	return ino
}

// RemovePath removes both map entries for p using its current mapping. A
// no-op if p is not bound.
func (ns *Namespace) RemovePath(p string) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ino, ok := ns.inoByPath[p]
	if !ok {
		return
	}
	delete(ns.inoByPath, p)
	delete(ns.pathByIno, ino)
}

// InsertPathMapping binds p to ino directly, without allocating. Used by
// rename to keep the inode stable across a path change: the caller first
// removes the old path's mapping, then calls this to bind the same inode to
// the new path.
func (ns *Namespace) InsertPathMapping(p string, ino fuseops.InodeID) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.inoByPath[p] = ino
	ns.pathByIno[ino] = p
}

// InsertChild binds ino to the absolute path formed by joining parent and
// name, special-casing the root so "/" + "foo" yields "/foo" rather than
// "//foo".
func (ns *Namespace) InsertChild(parent, name string, ino fuseops.InodeID) string {
	child := ChildPath(parent, name)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.inoByPath[child] = ino
	ns.pathByIno[ino] = child
	return child
}

// ChildPath builds the absolute path of a child named name within parent,
// special-casing root so the result never contains a doubled slash.
func ChildPath(parent, name string) string {
	if parent == RootPath {
		return RootPath + name
	}
	return path.Join(parent, name)
}

// DBRelative returns the db-relative form of p: "" for root, otherwise
// "./" + p with its leading slash stripped.
func DBRelative(p string) string {
	if p == RootPath {
		return ""
	}
	return "./" + strings.TrimPrefix(p, "/")
}

// FSRelative returns the fs-relative form of p: "" for root, otherwise p
// with its leading slash stripped.
func FSRelative(p string) string {
	if p == RootPath {
		return ""
	}
	return strings.TrimPrefix(p, "/")
}

// AbsFromDBRelative is the inverse of DBRelative: it recovers the absolute
// path a change-event payload's relPath/oldPath/newPath field refers to.
func AbsFromDBRelative(rel string) string {
	if rel == "" {
		return RootPath
	}
	return "/" + strings.TrimPrefix(rel, "./")
}
