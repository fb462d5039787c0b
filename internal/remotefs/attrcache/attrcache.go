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

// Package attrcache is the path -> attributes cache for inode metadata.
// There is no implicit TTL here: freshness is governed by explicit
// eviction at mutation sites and by the directory cache's own TTL forcing a
// conservative re-fetch.
package attrcache

import (
	"os"
	"sync"
	"time"

	"github.com/jacobsa/fuse/fuseops"
)

// Kind distinguishes the two inode kinds this filesystem ever serves.
type Kind int

const (
	File Kind = iota
	Dir
)

// Attr is the kernel-visible attribute set, kept in our own
// shape because jacobsa/fuse's fuseops.InodeAttributes has no field for
// block count/size (the kernel derives those internally); we keep them here
// and drop them at the fuseops boundary.
type Attr struct {
	Ino     fuseops.InodeID
	Size    uint64
	BlkSize uint32
	Kind    Kind
	Perm    os.FileMode // permission bits only, e.g. 0o755
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Crtime  time.Time
}

// Blocks returns ceil(Size/512), the block count FUSE attribute replies
// report.
func (a Attr) Blocks() uint64 {
	return (a.Size + 511) / 512
}

// ToInodeAttributes converts to the struct jacobsa/fuse replies with.
func (a Attr) ToInodeAttributes() fuseops.InodeAttributes {
	mode := a.Perm & os.ModePerm
	if a.Kind == Dir {
		mode |= os.ModeDir
	}
	return fuseops.InodeAttributes{
		Size:   a.Size,
		Nlink:  a.Nlink,
		Mode:   mode,
		Atime:  a.Atime,
		Mtime:  a.Mtime,
		Ctime:  a.Ctime,
		Crtime: a.Crtime,
		Uid:    a.Uid,
		Gid:    a.Gid,
	}
}

// WithSize returns a copy of a with Size (and therefore Blocks) replaced,
// used when a live write handle's high-water mark overrides the cached
// size for getattr/setattr replies.
func (a Attr) WithSize(size uint64) Attr {
	a.Size = size
	return a
}

// Cache is the path -> Attr store. A plain mutex-guarded map, not a TTL
// cache: entries live until explicitly invalidated, never expiring on
// their own.
type Cache struct {
	mu    sync.Mutex
	attrs map[string]Attr
}

func New() *Cache {
	return &Cache{attrs: make(map[string]Attr)}
}

func (c *Cache) Get(path string) (Attr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.attrs[path]
	return a, ok
}

func (c *Cache) Set(path string, attr Attr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs[path] = attr
}

func (c *Cache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attrs, path)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs = make(map[string]Attr)
}
