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
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotefs-project/remotefs/clock"
	"github.com/remotefs-project/remotefs/internal/remote"
)

// fakeClient is an in-memory stand-in for remote.Client, keyed by
// db-relative path ("" for root, "./sub/file.txt" otherwise), the form
// the dispatcher sends to its backend.
type fakeClient struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string][]remote.DirectoryEntry
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		files: make(map[string][]byte),
		dirs:  map[string][]remote.DirectoryEntry{"": nil},
	}
}

func (c *fakeClient) putDirEntry(dir string, e remote.DirectoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.dirs[dir] {
		if existing.Name == e.Name {
			c.dirs[dir][i] = e
			return
		}
	}
	c.dirs[dir] = append(c.dirs[dir], e)
}

func (c *fakeClient) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[relPath]
	if !ok {
		return nil, syscall.ENOENT
	}
	return data, nil
}

func (c *fakeClient) ReadRange(ctx context.Context, relPath string, start, end int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[relPath]
	if !ok {
		return nil, syscall.ENOENT
	}
	if end >= int64(len(data)) {
		end = int64(len(data)) - 1
	}
	if start > end {
		return nil, nil
	}
	return data[start : end+1], nil
}

func (c *fakeClient) ReadAll(ctx context.Context, relPath string, size int64) ([]byte, error) {
	return c.ReadFile(ctx, relPath)
}

func (c *fakeClient) WriteFile(ctx context.Context, relPath, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.files[relPath] = data
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Delete(ctx context.Context, relPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, relPath)
	delete(c.dirs, relPath)
	return nil
}

func (c *fakeClient) Mkdir(ctx context.Context, relPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dirs[relPath]; !ok {
		c.dirs[relPath] = nil
	}
	return nil
}

func (c *fakeClient) List(ctx context.Context, relPath string) ([]remote.DirectoryEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.dirs[relPath]
	if !ok {
		return nil, syscall.ENOENT
	}
	out := make([]remote.DirectoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (c *fakeClient) Truncate(ctx context.Context, relPath string, size uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[relPath]
	if !ok {
		return syscall.ENOENT
	}
	if uint64(len(data)) == size {
		return nil
	}
	if uint64(len(data)) > size {
		c.files[relPath] = data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, data)
	c.files[relPath] = grown
	return nil
}

func (c *fakeClient) Rename(ctx context.Context, oldRel, newRel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if data, ok := c.files[oldRel]; ok {
		c.files[newRel] = data
		delete(c.files, oldRel)
	}
	return nil
}

func (c *fakeClient) Statfs(ctx context.Context) (remote.Statfs, error) {
	return remote.Statfs{Bsize: 4096, Blocks: 100, Bfree: 50, Bavail: 50, Files: 10, Ffree: 5}, nil
}

func (c *fakeClient) UpdateMetadata(ctx context.Context, relPath string) (remote.DirectoryEntry, error) {
	return remote.DirectoryEntry{Name: relPath, IsDir: true, Permissions: "755", Nlink: 2}, nil
}

func newTestFSWithClient(t *testing.T) (*FileSystem, *fakeClient) {
	t.Helper()
	c := newFakeClient()
	fs := New(Config{Client: c, TempDir: t.TempDir()})
	return fs, c
}

func newTestFSWithClock(t *testing.T, clk clock.Clock, ttl time.Duration) (*FileSystem, *fakeClient) {
	t.Helper()
	c := newFakeClient()
	fs := New(Config{Client: c, TempDir: t.TempDir(), Clock: clk, DirTTL: ttl})
	return fs, c
}

func mkdirOp(t *testing.T, fs *FileSystem, name string) *fuseops.MkDirOp {
	t.Helper()
	op := &fuseops.MkDirOp{
		Parent: fuseops.RootInodeID,
		Name:   name,
		Mode:   os.ModeDir | 0o755,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.MkDir(op))
	return op
}

func createFileOp(t *testing.T, fs *FileSystem, parent fuseops.InodeID, name string) *fuseops.CreateFileOp {
	t.Helper()
	op := &fuseops.CreateFileOp{
		Parent: parent,
		Name:   name,
		Mode:   0o644,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.CreateFile(op))
	return op
}

func TestLookUpInodeFindsEntryAfterDirList(t *testing.T) {
	fs, c := newTestFSWithClient(t)
	c.putDirEntry("", remote.DirectoryEntry{Name: "foo.txt", Size: 5, Permissions: "644", Nlink: 1})

	op := &fuseops.LookUpInodeOp{
		Parent: fuseops.RootInodeID,
		Name:   "foo.txt",
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.LookUpInode(op))
	assert.NotZero(t, op.Entry.Child)
	assert.Equal(t, uint64(5), op.Entry.Attributes.Size)
}

func TestLookUpInodeMissingReturnsENOENT(t *testing.T) {
	fs, _ := newTestFSWithClient(t)
	op := &fuseops.LookUpInodeOp{
		Parent: fuseops.RootInodeID,
		Name:   "missing.txt",
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	assert.Equal(t, syscall.ENOENT, fs.LookUpInode(op))
}

func TestGetInodeAttributesRoot(t *testing.T) {
	fs, _ := newTestFSWithClient(t)
	op := &fuseops.GetInodeAttributesOp{
		Inode: fuseops.RootInodeID,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.GetInodeAttributes(op))
	assert.True(t, op.Attributes.Mode.IsDir())
}

func TestMkDirCreatesDirectory(t *testing.T) {
	fs, _ := newTestFSWithClient(t)
	op := mkdirOp(t, fs, "sub")
	assert.NotZero(t, op.Entry.Child)
	assert.True(t, op.Entry.Attributes.Mode.IsDir())
}

func TestCreateFileThenWriteThenSyncRoundTrips(t *testing.T) {
	fs, c := newTestFSWithClient(t)
	create := createFileOp(t, fs, fuseops.RootInodeID, "foo.txt")

	writeOp := &fuseops.WriteFileOp{
		Handle: create.Handle,
		Offset: 0,
		Data:   []byte("hello"),
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.WriteFile(writeOp))

	syncOp := &fuseops.SyncFileOp{
		Inode:  create.Entry.Child,
		Handle: create.Handle,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.SyncFile(syncOp))

	data, err := c.ReadFile(context.Background(), "./foo.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestReleaseFileHandleFlushesDirtyWriteAndUpdatesAttr(t *testing.T) {
	fs, c := newTestFSWithClient(t)
	create := createFileOp(t, fs, fuseops.RootInodeID, "foo.txt")

	writeOp := &fuseops.WriteFileOp{
		Handle: create.Handle,
		Offset: 0,
		Data:   []byte("payload"),
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.WriteFile(writeOp))

	releaseOp := &fuseops.ReleaseFileHandleOp{
		Handle: create.Handle,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.ReleaseFileHandle(releaseOp))

	data, err := c.ReadFile(context.Background(), "./foo.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	attrOp := &fuseops.GetInodeAttributesOp{
		Inode: create.Entry.Child,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.GetInodeAttributes(attrOp))
	assert.Equal(t, uint64(len("payload")), attrOp.Attributes.Size)
}

func TestReleaseFileHandleCleansUpTempFileRegardlessOfDirtyState(t *testing.T) {
	fs, _ := newTestFSWithClient(t)
	create := createFileOp(t, fs, fuseops.RootInodeID, "foo.txt")

	w, ok := fs.writes.Get(create.Handle)
	require.True(t, ok)
	tempPath := w.TempPath
	_, statErr := os.Stat(tempPath)
	require.NoError(t, statErr)

	releaseOp := &fuseops.ReleaseFileHandleOp{
		Handle: create.Handle,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.ReleaseFileHandle(releaseOp))

	_, statErr = os.Stat(tempPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReadFileViaOpenWriteHandleReadsBackBufferedData(t *testing.T) {
	fs, _ := newTestFSWithClient(t)
	create := createFileOp(t, fs, fuseops.RootInodeID, "foo.txt")

	writeOp := &fuseops.WriteFileOp{
		Handle: create.Handle,
		Offset: 0,
		Data:   []byte("abcdef"),
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.WriteFile(writeOp))

	readOp := &fuseops.ReadFileOp{
		Handle: create.Handle,
		Offset: 2,
		Size:   3,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.ReadFile(readOp))
	assert.Equal(t, "cde", string(readOp.Data))
}

func TestReadFileBackendRangeBeyondEndOfFileReturnsEmpty(t *testing.T) {
	fs, c := newTestFSWithClient(t)
	c.putDirEntry("", remote.DirectoryEntry{Name: "foo.txt", Size: 3, Permissions: "644", Nlink: 1})
	c.files["./foo.txt"] = []byte("abc")

	lookup := &fuseops.LookUpInodeOp{
		Parent: fuseops.RootInodeID,
		Name:   "foo.txt",
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.LookUpInode(lookup))

	readOp := &fuseops.ReadFileOp{
		Handle: 99999,
		Inode:  lookup.Entry.Child,
		Offset: 10,
		Size:   5,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.ReadFile(readOp))
	assert.Empty(t, readOp.Data)
}

func TestOpenDirAndReadDirListsSyntheticAndBackendEntries(t *testing.T) {
	fs, c := newTestFSWithClient(t)
	c.putDirEntry("", remote.DirectoryEntry{Name: "sub", IsDirRaw: 1, Permissions: "755", Nlink: 2})
	c.putDirEntry("", remote.DirectoryEntry{Name: "file.txt", Permissions: "644", Nlink: 1})

	openOp := &fuseops.OpenDirOp{
		Inode: fuseops.RootInodeID,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.OpenDir(openOp))

	readOp := &fuseops.ReadDirOp{
		Handle: openOp.Handle,
		Offset: 0,
		Size:   4096,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.ReadDir(readOp))
	assert.NotEmpty(t, readOp.Data)

	releaseOp := &fuseops.ReleaseDirHandleOp{Handle: openOp.Handle}
	require.NoError(t, fs.ReleaseDirHandle(releaseOp))
}

func TestRenameUpdatesNamespaceAndBackendPath(t *testing.T) {
	fs, c := newTestFSWithClient(t)
	create := createFileOp(t, fs, fuseops.RootInodeID, "old.txt")
	writeOp := &fuseops.WriteFileOp{
		Handle: create.Handle,
		Data:   []byte("x"),
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.WriteFile(writeOp))
	releaseOp := &fuseops.ReleaseFileHandleOp{
		Handle: create.Handle,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.ReleaseFileHandle(releaseOp))

	renameOp := &fuseops.RenameOp{
		OldParent: fuseops.RootInodeID,
		OldName:   "old.txt",
		NewParent: fuseops.RootInodeID,
		NewName:   "new.txt",
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.Rename(renameOp))

	_, err := c.ReadFile(context.Background(), "./old.txt")
	assert.Equal(t, syscall.ENOENT, err)
	data, err := c.ReadFile(context.Background(), "./new.txt")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	_, ok := fs.ns.InoOf("/old.txt")
	assert.False(t, ok)
	ino, ok := fs.ns.InoOf("/new.txt")
	require.True(t, ok)
	assert.Equal(t, create.Entry.Child, ino)
}

func TestUnlinkRemovesFileFromBackendAndNamespace(t *testing.T) {
	fs, c := newTestFSWithClient(t)
	createFileOp(t, fs, fuseops.RootInodeID, "gone.txt")
	c.files["./gone.txt"] = []byte("bye")

	unlinkOp := &fuseops.UnlinkOp{
		Parent: fuseops.RootInodeID,
		Name:   "gone.txt",
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.Unlink(unlinkOp))

	_, err := c.ReadFile(context.Background(), "./gone.txt")
	assert.Equal(t, syscall.ENOENT, err)
	_, ok := fs.ns.InoOf("/gone.txt")
	assert.False(t, ok)
}

func TestRmDirFailsWhenNotEmpty(t *testing.T) {
	fs, c := newTestFSWithClient(t)
	mkdirOp(t, fs, "sub")
	c.putDirEntry("./sub", remote.DirectoryEntry{Name: "child.txt", Permissions: "644", Nlink: 1})

	rmOp := &fuseops.RmDirOp{
		Parent: fuseops.RootInodeID,
		Name:   "sub",
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	assert.Equal(t, syscall.ENOTEMPTY, fs.RmDir(rmOp))
}

func TestRmDirSucceedsWhenEmpty(t *testing.T) {
	fs, _ := newTestFSWithClient(t)
	mkdirOp(t, fs, "sub")

	rmOp := &fuseops.RmDirOp{
		Parent: fuseops.RootInodeID,
		Name:   "sub",
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	assert.NoError(t, fs.RmDir(rmOp))
}

func TestSetInodeAttributesTruncateClampsLiveWriteSize(t *testing.T) {
	fs, _ := newTestFSWithClient(t)
	create := createFileOp(t, fs, fuseops.RootInodeID, "foo.txt")

	newSize := uint64(42)
	setOp := &fuseops.SetInodeAttributesOp{
		Inode: create.Entry.Child,
		Size:  &newSize,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.SetInodeAttributes(setOp))
	assert.Equal(t, newSize, setOp.Attributes.Size)

	w, ok := fs.writes.Get(create.Handle)
	require.True(t, ok)
	assert.Equal(t, newSize, w.Size)
}

func TestGetInodeAttributesReflectsLiveWriteHighWaterMark(t *testing.T) {
	fs, _ := newTestFSWithClient(t)
	create := createFileOp(t, fs, fuseops.RootInodeID, "foo.txt")

	writeOp := &fuseops.WriteFileOp{
		Handle: create.Handle,
		Offset: 0,
		Data:   []byte("hello world"),
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.WriteFile(writeOp))

	attrOp := &fuseops.GetInodeAttributesOp{
		Inode: create.Entry.Child,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.GetInodeAttributes(attrOp))
	assert.Equal(t, uint64(len("hello world")), attrOp.Attributes.Size)
}

func TestReadDirOnStaleCacheSynchronouslyReturnsFreshListing(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	fs, c := newTestFSWithClock(t, clk, time.Second)

	c.putDirEntry("", remote.DirectoryEntry{Name: "old.txt", Permissions: "644", Nlink: 1})

	openOp := &fuseops.OpenDirOp{
		Inode: fuseops.RootInodeID,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.OpenDir(openOp))

	readOp := &fuseops.ReadDirOp{
		Handle: openOp.Handle,
		Offset: 0,
		Size:   4096,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.ReadDir(readOp))
	firstPass := string(readOp.Data)
	assert.Contains(t, firstPass, "old.txt")

	// A sibling appears on the backend and the cached listing goes stale:
	// the next ReadDir must synchronously pick up the new entry rather
	// than serving the old snapshot while refreshing in the background.
	c.putDirEntry("", remote.DirectoryEntry{Name: "new.txt", Permissions: "644", Nlink: 1})
	clk.AdvanceTime(2 * time.Second)

	readOp2 := &fuseops.ReadDirOp{
		Handle: openOp.Handle,
		Offset: 0,
		Size:   4096,
		OpContext: fuseops.OpContext{
			Ctx: context.Background(),
		},
	}
	require.NoError(t, fs.ReadDir(readOp2))
	assert.Contains(t, string(readOp2.Data), "new.txt")
}
