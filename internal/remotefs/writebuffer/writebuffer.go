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

// Package writebuffer tracks in-flight write-back state keyed by FUSE file
// handle. A write-open file stages its bytes in a local temp file; this
// package is the bookkeeping for that staging area.
package writebuffer

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/jacobsa/fuse/fuseops"
)

// Write is the live write-back state for one open file handle.
type Write struct {
	TempPath string
	Size     uint64
	Dirty    bool
}

// Buffer holds one Write per open write handle.
type Buffer struct {
	mu   sync.Mutex
	m    map[fuseops.HandleID]*Write
	next atomic.Uint64
}

func New() *Buffer {
	return &Buffer{m: make(map[fuseops.HandleID]*Write)}
}

// AllocFh returns a fresh, never-before-issued handle ID.
func (b *Buffer) AllocFh() fuseops.HandleID {
	return fuseops.HandleID(b.next.Add(1))
}

// Insert registers a new write state for fh with size 0, for a freshly
// created file with no remote content to prefetch.
func (b *Buffer) Insert(fh fuseops.HandleID, tempPath string, dirty bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[fh] = &Write{TempPath: tempPath, Dirty: dirty}
}

// InsertPrefetched registers a new write state for fh whose temp file was
// seeded from an existing remote file of the given size. Initializing Size
// to the prefetched length (rather than 0): a pure-overwrite-then-release
// must not under-report the size of bytes that were never rewritten.
func (b *Buffer) InsertPrefetched(fh fuseops.HandleID, tempPath string, size uint64, dirty bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[fh] = &Write{TempPath: tempPath, Size: size, Dirty: dirty}
}

// WithMut runs f against the write state for fh while holding the lock,
// reporting whether an entry existed.
func (b *Buffer) WithMut(fh fuseops.HandleID, f func(w *Write)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.m[fh]
	if !ok {
		return false
	}
	f(w)
	return true
}

// Get returns a copy of the write state for fh, for read-only inspection.
func (b *Buffer) Get(fh fuseops.HandleID) (Write, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.m[fh]
	if !ok {
		return Write{}, false
	}
	return *w, true
}

// Take removes and returns the write state for fh.
func (b *Buffer) Take(fh fuseops.HandleID) (Write, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.m[fh]
	if !ok {
		return Write{}, false
	}
	delete(b.m, fh)
	return *w, true
}

// CleanupAll best-effort unlinks every still-registered temp file. Called
// once on mount teardown. A panic inside the critical section (a poisoned
// lock) is recovered and swallowed: shutdown must not hang or crash because
// cleanup of a scratch directory failed.
func (b *Buffer) CleanupAll() {
	defer func() {
		_ = recover()
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	for fh, w := range b.m {
		os.Remove(w.TempPath)
		delete(b.m, fh)
	}
}
